package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunData describes a run level transition
type RunData struct {
	Type   EventType `json:"-"`
	RunID  string    `json:"run_id"`
	Status string    `json:"status"`
	Stage  string    `json:"stage,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// EventType returns the event type for RunData
func (d *RunData) EventType() EventType {
	return d.Type
}

// StageData describes one stage attempt
type StageData struct {
	Type      EventType `json:"-"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt"`
	RetryInMS int64     `json:"retry_in_ms,omitempty"`
}

// EventType returns the event type for StageData
func (d *StageData) EventType() EventType {
	return d.Type
}

// RecommendationsReadyData is emitted when a run produced drafts for review
type RecommendationsReadyData struct {
	RunID string `json:"run_id"`
	Count int    `json:"count"`
}

// EventType returns the event type for RecommendationsReadyData
func (d *RecommendationsReadyData) EventType() EventType {
	return RecommendationsReady
}

// RecommendationDecidedData is emitted for every accepted decision
type RecommendationDecidedData struct {
	RecommendationID string `json:"recommendation_id"`
	RunID            string `json:"run_id"`
	ClientID         string `json:"client_id"`
	Status           string `json:"status"`
	DecidedBy        string `json:"decided_by"`
}

// EventType returns the event type for RecommendationDecidedData
func (d *RecommendationDecidedData) EventType() EventType {
	return RecommendationDecided
}

// RecommendationsBatchData reports a bulk status change (expiry, export)
type RecommendationsBatchData struct {
	Type  EventType `json:"-"`
	RunID string    `json:"run_id,omitempty"`
	Count int64     `json:"count"`
}

// EventType returns the event type for RecommendationsBatchData
func (d *RecommendationsBatchData) EventType() EventType {
	return d.Type
}

// RunsArchivedData reports failed runs moved past retention
type RunsArchivedData struct {
	Count int64 `json:"count"`
}

// EventType returns the event type for RunsArchivedData
func (d *RunsArchivedData) EventType() EventType {
	return RunsArchived
}

// BackupCompletedData reports an uploaded ledger backup
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData carries an error raised outside a request path
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
