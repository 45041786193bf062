package stages

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.StageErrorKind
	}{
		{"permanent passes through", domain.Permanent("bad json", nil), domain.StageErrorPermanent},
		{"wrapped transient", fmt.Errorf("fetch: %w", domain.Transient("503", nil)), domain.StageErrorTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.StageErrorTimeout},
		{"net timeout", timeoutErr{}, domain.StageErrorTimeout},
		{"unknown error", errors.New("weird"), domain.StageErrorTransient},
		{"missing kind", &domain.StageError{Detail: "x"}, domain.StageErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestHTTPStatusError(t *testing.T) {
	assert.Equal(t, domain.StageErrorTransient, HTTPStatusError(429, "rate limited").Kind)
	assert.Equal(t, domain.StageErrorTransient, HTTPStatusError(503, "unavailable").Kind)
	assert.Equal(t, domain.StageErrorPermanent, HTTPStatusError(400, "bad request").Kind)
	assert.Equal(t, domain.StageErrorPermanent, HTTPStatusError(401, "unauthorized").Kind)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(0))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}

	assert.True(t, p.ShouldRetry(1, domain.Transient("x", nil)))
	assert.True(t, p.ShouldRetry(2, &domain.StageError{Kind: domain.StageErrorTimeout}))
	assert.False(t, p.ShouldRetry(3, domain.Transient("x", nil)))
	assert.False(t, p.ShouldRetry(1, domain.Permanent("x", nil)))
	assert.False(t, p.ShouldRetry(1, nil))
}

func TestPoliciesFromConfig(t *testing.T) {
	policy, err := config.LoadPolicy("")
	require.NoError(t, err)

	policies := PoliciesFromConfig(policy)
	assert.Equal(t, 4, policies.For(domain.StageFetch).MaxAttempts)
	assert.Equal(t, 2*time.Minute, policies.For(domain.StageSynthesize).Timeout)
	assert.Equal(t, 1, Policies{}.For(domain.StageParse).MaxAttempts)
}

func TestAdapterFunc(t *testing.T) {
	var parser Parser = AdapterFunc[ParseInput, []domain.Directive](func(ctx context.Context, in ParseInput) ([]domain.Directive, error) {
		return []domain.Directive{{ID: "DIR-001", Scope: in.MarketView}}, nil
	})
	out, err := parser.Execute(context.Background(), ParseInput{MarketView: "BANKING"})
	require.NoError(t, err)
	assert.Equal(t, "BANKING", out[0].Scope)
}
