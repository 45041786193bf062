package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunStarter struct {
	mock.Mock
}

func (m *MockRunStarter) StartRunAs(ctx context.Context, marketView, trigger string) (*domain.Run, error) {
	args := m.Called(ctx, marketView, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Run), args.Error(1)
}

func writeView(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market_view.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDailyRunJob_StartsRun(t *testing.T) {
	starter := new(MockRunStarter)
	starter.On("StartRunAs", mock.Anything, "Banking sector bullish", "schedule").
		Return(&domain.Run{ID: "run-1", Status: domain.RunStatusRunning}, nil)

	job := NewDailyRunJob(starter, writeView(t, "  Banking sector bullish\n"), zerolog.Nop())
	assert.Equal(t, "daily_run", job.Name())
	require.NoError(t, job.Run())
	starter.AssertExpectations(t)
}

func TestDailyRunJob_Skips(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.txt") }},
		{name: "blank file", path: func(t *testing.T) string { return writeView(t, " \n\t") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := new(MockRunStarter)
			job := NewDailyRunJob(starter, tt.path(t), zerolog.Nop())
			require.NoError(t, job.Run())
			starter.AssertNotCalled(t, "StartRunAs", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDailyRunJob_ActiveRunIsNotAFailure(t *testing.T) {
	starter := new(MockRunStarter)
	starter.On("StartRunAs", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &domain.ConcurrentRunError{ActiveRunID: "run-0"})

	job := NewDailyRunJob(starter, writeView(t, "IT neutral"), zerolog.Nop())
	assert.NoError(t, job.Run())
}

func TestDailyRunJob_StartFailure(t *testing.T) {
	starter := new(MockRunStarter)
	starter.On("StartRunAs", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &domain.DataIntegrityError{Violations: domain.ValidationErrors{{Field: "C002", Message: "allocation sums to 105.00%"}}})

	job := NewDailyRunJob(starter, writeView(t, "IT neutral"), zerolog.Nop())
	err := job.Run()
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}
