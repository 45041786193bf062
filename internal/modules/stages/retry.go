package stages

import (
	"math"
	"time"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
)

// RetryPolicy bounds the attempts of one stage
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// Backoff returns the wait before the attempt following `attempt` (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a failure of `attempt` may be retried
func (p RetryPolicy) ShouldRetry(attempt int, err *domain.StageError) bool {
	return err != nil && err.Kind.Retryable() && attempt < p.MaxAttempts
}

// Policies holds the retry policy of every stage
type Policies map[domain.Stage]RetryPolicy

// For returns the policy for stage, falling back to a single attempt with a one minute timeout
func (p Policies) For(stage domain.Stage) RetryPolicy {
	if rp, ok := p[stage]; ok {
		return rp
	}
	return RetryPolicy{MaxAttempts: 1, Timeout: time.Minute}
}

// PoliciesFromConfig converts the loaded policy file into per-stage policies
func PoliciesFromConfig(policy *config.Policy) Policies {
	out := make(Policies, len(domain.Stages))
	for _, stage := range domain.Stages {
		sp, ok := policy.Stages[string(stage)]
		if !ok {
			continue
		}
		out[stage] = RetryPolicy{
			MaxAttempts: sp.MaxAttempts,
			BaseDelay:   sp.BaseDelay,
			Multiplier:  sp.Multiplier,
			MaxDelay:    sp.MaxDelay,
			Timeout:     sp.Timeout,
		}
	}
	return out
}
