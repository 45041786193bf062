package stages

import (
	"context"
	"errors"
	"net"

	"github.com/aristath/maestro/internal/domain"
)

// Classify normalises any adapter error into a *domain.StageError.
// Deadline overruns become Timeout. Errors an adapter did not classify are
// treated as Transient so that one unexpected failure does not end the run.
func Classify(err error) *domain.StageError {
	if err == nil {
		return nil
	}

	var se *domain.StageError
	if errors.As(err, &se) {
		if se.Kind == "" {
			return &domain.StageError{Kind: domain.StageErrorTransient, Detail: se.Detail, Err: se.Err}
		}
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.StageError{Kind: domain.StageErrorTimeout, Detail: "stage deadline exceeded", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.StageError{Kind: domain.StageErrorTimeout, Detail: "network timeout", Err: err}
	}

	return &domain.StageError{Kind: domain.StageErrorTransient, Detail: "unclassified adapter error", Err: err}
}

// HTTPStatusError classifies an upstream HTTP status: 408, 425, 429 and 5xx
// are transient, any other non-2xx status is permanent.
func HTTPStatusError(status int, detail string) *domain.StageError {
	switch {
	case status == 408 || status == 425 || status == 429 || status >= 500:
		return &domain.StageError{Kind: domain.StageErrorTransient, Detail: detail}
	default:
		return &domain.StageError{Kind: domain.StageErrorPermanent, Detail: detail}
	}
}
