package threat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/panelAuth/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Enabled:       true,
		AutoBlock:     true,
		Sensitivity:   SensitivityMedium,
		HalfLife:      10 * time.Minute,
		BlockDuration: time.Hour,
	}
}

func newMonitor(t *testing.T, cfg Config) (*Monitor, *testutil.Clock) {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	clock := testutil.NewClock()
	m, err := New(rdb, cfg, clock.Now)
	require.NoError(t, err)
	return m, clock
}

func TestBlocksWhenThresholdReached(t *testing.T) {
	m, clock := newMonitor(t, testConfig())
	ctx := context.Background()
	key := "ip:203.0.113.7"

	for i := 0; i < 9; i++ {
		v, err := m.Observe(ctx, key, SignalInvalidCredentials)
		require.NoError(t, err)
		require.False(t, v.Blocked)
	}
	blocked, _, err := m.IsBlocked(ctx, key)
	require.NoError(t, err)
	require.False(t, blocked)

	v, err := m.Observe(ctx, key, SignalInvalidCredentials)
	require.NoError(t, err)
	require.True(t, v.Blocked)
	require.Equal(t, clock.Now().Add(time.Hour), v.BlockedUntil)

	blocked, left, err := m.IsBlocked(ctx, key)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, time.Hour, left)

	clock.Advance(time.Hour)
	blocked, _, err = m.IsBlocked(ctx, key)
	require.NoError(t, err)
	require.False(t, blocked)

	score, err := m.Score(ctx, key)
	require.NoError(t, err)
	require.Zero(t, score, "score restarts after a block")
}

func TestScoreDecays(t *testing.T) {
	m, clock := newMonitor(t, testConfig())
	ctx := context.Background()
	key := "ip:198.51.100.1"

	for i := 0; i < 4; i++ {
		_, err := m.Observe(ctx, key, SignalInvalidCredentials)
		require.NoError(t, err)
	}
	clock.Advance(10 * time.Minute)
	score, err := m.Score(ctx, key)
	require.NoError(t, err)
	require.InDelta(t, 2.0, score, 1e-9)

	v, err := m.Observe(ctx, key, SignalTooManyAttempts)
	require.NoError(t, err)
	require.InDelta(t, 5.0, v.Score, 1e-9)
	require.False(t, v.Blocked)
}

func TestSensitivityPresets(t *testing.T) {
	for _, tc := range []struct {
		s    Sensitivity
		hits int
	}{
		{SensitivityHigh, 1},
		{SensitivityMedium, 2},
		{SensitivityLow, 4},
	} {
		cfg := testConfig()
		cfg.Sensitivity = tc.s
		m, _ := newMonitor(t, cfg)

		var v Verdict
		var err error
		for i := 0; i < tc.hits; i++ {
			v, err = m.Observe(context.Background(), "k", SignalTokenReused)
			require.NoError(t, err)
		}
		require.True(t, v.Blocked, "%s should block after %d reuse signals", tc.s, tc.hits)
	}
}

func TestCustomThresholdOverridesPreset(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 2
	m, _ := newMonitor(t, cfg)

	_, err := m.Observe(context.Background(), "k", SignalRateLimited)
	require.NoError(t, err)
	v, err := m.Observe(context.Background(), "k", SignalRateLimited)
	require.NoError(t, err)
	require.True(t, v.Blocked)
}

func TestAutoBlockOffOnlyScores(t *testing.T) {
	cfg := testConfig()
	cfg.AutoBlock = false
	m, _ := newMonitor(t, cfg)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		v, err := m.Observe(ctx, "k", SignalTokenReused)
		require.NoError(t, err)
		require.False(t, v.Blocked)
	}
	blocked, _, err := m.IsBlocked(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestDisabledMonitorIsInert(t *testing.T) {
	m, _ := newMonitor(t, Config{})
	v, err := m.Observe(context.Background(), "k", SignalTokenReused)
	require.NoError(t, err)
	require.Zero(t, v)
	blocked, _, err := m.IsBlocked(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestManualBlockAndUnblock(t *testing.T) {
	m, _ := newMonitor(t, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Block(ctx, "k", time.Minute))
	blocked, left, err := m.IsBlocked(ctx, "k")
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, time.Minute, left)

	require.NoError(t, m.Unblock(ctx, "k"))
	blocked, _, err = m.IsBlocked(ctx, "k")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	cfg.Sensitivity = "paranoid"
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.BlockDuration = 0
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Weights = map[Signal]float64{SignalRateLimited: -1}
	require.Error(t, cfg.Validate())
}

func TestBackendFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	m, err := New(rdb, testConfig(), nil)
	require.NoError(t, err)

	_, _, err = m.IsBlocked(context.Background(), "k")
	require.True(t, errors.Is(err, ErrUnavailable))
	_, err = m.Observe(context.Background(), "k", SignalRateLimited)
	require.True(t, errors.Is(err, ErrUnavailable))
}
