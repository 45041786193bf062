// Package events provides the in-process event bus used to announce run
// progress and review activity to the HTTP event stream and other listeners.
package events

import "time"

// EventType identifies the kind of event
type EventType string

const (
	RunStarted              EventType = "RUN_STARTED"
	RunResumed              EventType = "RUN_RESUMED"
	StageStarted            EventType = "STAGE_STARTED"
	StageRetrying           EventType = "STAGE_RETRYING"
	StageSucceeded          EventType = "STAGE_SUCCEEDED"
	StageFailed             EventType = "STAGE_FAILED"
	RunSucceeded            EventType = "RUN_SUCCEEDED"
	RunFailed               EventType = "RUN_FAILED"
	RunCancelled            EventType = "RUN_CANCELLED"
	RunsArchived            EventType = "RUNS_ARCHIVED"
	RecommendationsReady    EventType = "RECOMMENDATIONS_READY"
	RecommendationDecided   EventType = "RECOMMENDATION_DECIDED"
	RecommendationsExpired  EventType = "RECOMMENDATIONS_EXPIRED"
	RecommendationsExported EventType = "RECOMMENDATIONS_EXPORTED"
	BackupCompleted         EventType = "BACKUP_COMPLETED"
	ErrorOccurred           EventType = "ERROR_OCCURRED"
)

// Event is a published event. Data is the typed payload.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
}
