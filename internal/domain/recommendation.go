package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecommendationStatus is the review state of a recommendation
type RecommendationStatus string

const (
	RecommendationDraft    RecommendationStatus = "draft"
	RecommendationApproved RecommendationStatus = "approved"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationModified RecommendationStatus = "modified"
	RecommendationExported RecommendationStatus = "exported"
	RecommendationExpired  RecommendationStatus = "expired"
)

// IsAccepted reports whether the advisor accepted the recommendation, with or without edits
func (s RecommendationStatus) IsAccepted() bool {
	return s == RecommendationApproved || s == RecommendationModified
}

// Action is what a recommendation asks the advisor to do
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionAdd      Action = "ADD"
	ActionHold     Action = "HOLD"
	ActionReduce   Action = "REDUCE"
	ActionSell     Action = "SELL"
	ActionInitiate Action = "INITIATE"
)

// ParseAction validates an action name
func ParseAction(v string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(v)))
	switch a {
	case ActionBuy, ActionAdd, ActionHold, ActionReduce, ActionSell, ActionInitiate:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", v)
}

// Recommendation is a per-client action proposed by the synthesizer
type Recommendation struct {
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	DecidedAt          *time.Time           `json:"decided_at,omitempty"`
	ExportedAt         *time.Time           `json:"exported_at,omitempty"`
	TechnicalScore     *float64             `json:"technical_score,omitempty"`
	ModifiedConfidence *float64             `json:"modified_confidence,omitempty"`
	ID                 string               `json:"id"`
	RunID              string               `json:"run_id"`
	ClientID           string               `json:"client_id"`
	InstrumentCode     string               `json:"instrument_code"`
	InstrumentName     string               `json:"instrument_name,omitempty"`
	Action             Action               `json:"action"`
	Rationale          string               `json:"rationale"`
	DirectiveID        string               `json:"directive_id,omitempty"`
	Signal             SignalLabel          `json:"signal,omitempty"`
	Status             RecommendationStatus `json:"status"`
	DecidedBy          string               `json:"decided_by,omitempty"`
	DecisionNote       string               `json:"decision_note,omitempty"`
	ModifiedAction     Action               `json:"modified_action,omitempty"`
	ModifiedRationale  string               `json:"modified_rationale,omitempty"`
	Confidence         float64              `json:"confidence"`
}

// EffectiveAction returns the advisor's edited action when present
func (r *Recommendation) EffectiveAction() Action {
	if r.ModifiedAction != "" {
		return r.ModifiedAction
	}
	return r.Action
}

// EffectiveConfidence returns the advisor's edited confidence when present
func (r *Recommendation) EffectiveConfidence() float64 {
	if r.ModifiedConfidence != nil {
		return *r.ModifiedConfidence
	}
	return r.Confidence
}

// Verdict is the advisor's decision on a draft
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictModify  Verdict = "modify"
)

// Decision is a human review of one recommendation
type Decision struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Verdict    Verdict  `json:"verdict"`
	DecidedBy  string   `json:"decided_by"`
	Note       string   `json:"note,omitempty"`
	Action     Action   `json:"action,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
}

// Status maps the verdict to the recommendation status it produces
func (d Decision) Status() RecommendationStatus {
	switch d.Verdict {
	case VerdictApprove:
		return RecommendationApproved
	case VerdictReject:
		return RecommendationRejected
	case VerdictModify:
		return RecommendationModified
	}
	return ""
}

// Validate checks the decision is well formed
func (d Decision) Validate() error {
	var errs ValidationErrors
	if d.Status() == "" {
		errs = append(errs, ValidationError{Field: "verdict", Message: fmt.Sprintf("unknown verdict %q", d.Verdict)})
	}
	if strings.TrimSpace(d.DecidedBy) == "" {
		errs = append(errs, ValidationError{Field: "decided_by", Message: "is required"})
	}
	if d.Verdict == VerdictModify {
		if d.Action == "" && d.Confidence == nil && d.Rationale == "" {
			errs = append(errs, ValidationError{Field: "modify", Message: "at least one of action, confidence or rationale must change"})
		}
		if d.Action != "" {
			if _, err := ParseAction(string(d.Action)); err != nil {
				errs = append(errs, ValidationError{Field: "action", Message: err.Error()})
			}
		}
		if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 100) {
			errs = append(errs, ValidationError{Field: "confidence", Message: "must be between 0 and 100"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
