package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	require.Equal(t, 1, cfg.WorkerCount)
	require.Equal(t, time.Minute, cfg.HealthyUptime)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.NotNil(t, cfg.Restart)
	require.NotNil(t, cfg.Metrics)
	require.Zero(t, cfg.Restart.Delay(3))
}

func TestConfig_ApplyDefaultsPreservesValues(t *testing.T) {
	strategy, err := NewStrategy("backoff", time.Second, time.Minute)
	require.NoError(t, err)

	cfg := Config{
		WorkerCount:     4,
		HealthyUptime:   5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		Restart:         strategy,
	}
	cfg.applyDefaults()

	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 5*time.Minute, cfg.HealthyUptime)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, strategy, cfg.Restart)
}

func TestSupervisor_TotalStartsAtZero(t *testing.T) {
	s := New(Config{WorkerCount: 2})
	require.Zero(t, s.Total())
}

func TestExitReason(t *testing.T) {
	require.Equal(t, "exit status 0", exitReason(nil))
	require.Equal(t, "boom", exitReason(errors.New("boom")))
}
