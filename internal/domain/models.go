// Package domain provides the core types shared by the maestro pipeline:
// runs and their stage executions, the per-run artifacts produced by each
// stage, recommendations awaiting review and the client data snapshot a
// run is bound to.
package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	// RunStatusArchived marks a failed run past its retention window. It can no longer be resumed.
	RunStatusArchived RunStatus = "archived"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending: {RunStatusRunning, RunStatusFailed, RunStatusCancelled},
	RunStatusRunning: {RunStatusSucceeded, RunStatusFailed, RunStatusCancelled},
	RunStatusFailed:  {RunStatusRunning, RunStatusCancelled, RunStatusArchived},
}

// CanTransitionTo reports whether moving from s to next is a legal run transition.
// failed -> running is only legal through a resume.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s RunStatus) IsTerminal() bool {
	return len(runTransitions[s]) == 0
}

// IsValid reports whether s is a known status
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusArchived:
		return true
	}
	return false
}

// Stage identifies one step of the pipeline
type Stage string

const (
	StageParse      Stage = "parse"
	StageFetch      Stage = "fetch"
	StageScore      Stage = "score"
	StageSynthesize Stage = "synthesize"
)

// Stages lists the pipeline stages in execution order
var Stages = []Stage{StageParse, StageFetch, StageScore, StageSynthesize}

// Index returns the position of the stage in the pipeline, or -1
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage converts a string into a Stage
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if s.Index() < 0 {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

// Run is one end-to-end execution of the daily pipeline
type Run struct {
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	CurrentStage Stage      `json:"current_stage,omitempty"`
	MarketView   string     `json:"market_view"`
	SnapshotID   string     `json:"snapshot_id"`
	LastError    string     `json:"last_error,omitempty"`
	Trigger      string     `json:"trigger"`
	Seq          int64      `json:"seq"`
}

// ExecutionStatus is the state of a single stage attempt
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	// ExecutionAbandoned is used when the run was cancelled while the attempt was in flight
	ExecutionAbandoned ExecutionStatus = "abandoned"
)

// StageExecution records one attempt of one stage within a run
type StageExecution struct {
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	OutputRef   *string         `json:"output_ref,omitempty"`
	ErrorKind   *StageErrorKind `json:"error_kind,omitempty"`
	ErrorDetail *string         `json:"error_detail,omitempty"`
	RunID       string          `json:"run_id"`
	Stage       Stage           `json:"stage"`
	Status      ExecutionStatus `json:"status"`
	InputRef    string          `json:"input_ref"`
	ID          int64           `json:"id"`
	Attempt     int             `json:"attempt"`
}

// StageSummary is the per-stage projection shown to callers polling a run
type StageSummary struct {
	Stage     Stage  `json:"stage"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// RunState is a read-only view of a run and its stage history
type RunState struct {
	Run        Run              `json:"run"`
	Stages     []StageSummary   `json:"stages"`
	Executions []StageExecution `json:"executions"`
}

// SettledStages returns the stages that have a succeeded execution
func (rs *RunState) SettledStages() map[Stage]bool {
	settled := make(map[Stage]bool)
	for _, ex := range rs.Executions {
		if ex.Status == ExecutionSucceeded {
			settled[ex.Stage] = true
		}
	}
	return settled
}

// Summarize folds executions into one summary per pipeline stage
func Summarize(executions []StageExecution) []StageSummary {
	summaries := make([]StageSummary, len(Stages))
	for i, st := range Stages {
		summaries[i] = StageSummary{Stage: st, Status: "pending"}
	}
	for _, ex := range executions {
		idx := ex.Stage.Index()
		if idx < 0 {
			continue
		}
		sum := &summaries[idx]
		if ex.Attempt > sum.Attempts {
			sum.Attempts = ex.Attempt
		}
		if sum.Status == string(ExecutionSucceeded) {
			continue
		}
		sum.Status = string(ex.Status)
		if ex.ErrorDetail != nil {
			sum.LastError = *ex.ErrorDetail
		}
	}
	return summaries
}
