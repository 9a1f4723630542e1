package scheduler

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnus-inc/audioplayers/internal/config"
	"github.com/gnus-inc/audioplayers/internal/player"
	"github.com/gnus-inc/audioplayers/internal/player/playertest"
)

type fakePruner struct {
	calls atomic.Int32
	ret   int64
}

func (f *fakePruner) PruneStale(time.Duration) (int64, error) {
	f.calls.Add(1)
	return f.ret, nil
}

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func testConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		InventoryCron:  "* * * * * *", // every second
		PrefsPruneCron: "* * * * * *",
		PrefsRetention: 24 * time.Hour,
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	out := &syncWriter{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	reg := player.NewRegistry(playertest.NewEngine(),
		player.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	reg.GetOrCreate("p1")

	pruner := &fakePruner{ret: 3}
	s := New(testConfig(), reg, pruner, logger)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return pruner.calls.Load() >= 1 && strings.Contains(out.String(), "session inventory")
	}, 5*time.Second, 50*time.Millisecond)

	assert.Contains(t, out.String(), "pruned stale preferences")
}

func TestSchedulerWithoutPruner(t *testing.T) {
	reg := player.NewRegistry(playertest.NewEngine(),
		player.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s := New(testConfig(), reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())
	s.Stop()
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	cfg := testConfig()
	cfg.InventoryCron = "not a cron"
	reg := player.NewRegistry(playertest.NewEngine(),
		player.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s := New(cfg, reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, s.Start())
}
