package store

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnus-inc/audioplayers/internal/config"
	"github.com/gnus-inc/audioplayers/internal/player"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{DSN: ":memory:", LogLevel: "silent"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPrefsRoundTrip(t *testing.T) {
	repo := NewPrefsRepository(openTestDB(t))

	_, ok, err := repo.LoadPrefs("p1")
	require.NoError(t, err)
	assert.False(t, ok)

	in := player.Prefs{Volume: 0.7, Rate: 1.25, Looping: true, Route: player.RouteEarpiece}
	require.NoError(t, repo.SavePrefs("p1", in))

	out, ok, err := repo.LoadPrefs("p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestPrefsUpsertKeepsOneRowPerPlayer(t *testing.T) {
	repo := NewPrefsRepository(openTestDB(t))

	require.NoError(t, repo.SavePrefs("p1", player.Prefs{Volume: 0.2, Rate: 1, Route: player.RouteSpeakers}))
	require.NoError(t, repo.SavePrefs("p1", player.Prefs{Volume: 0.9, Rate: 1, Route: player.RouteSpeakers}))

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, ok, err := repo.LoadPrefs("p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.9, out.Volume)
}

func TestPruneStale(t *testing.T) {
	db := openTestDB(t)
	repo := NewPrefsRepository(db)

	require.NoError(t, repo.SavePrefs("old", player.Prefs{Volume: 1, Rate: 1, Route: player.RouteSpeakers}))
	require.NoError(t, repo.SavePrefs("fresh", player.Prefs{Volume: 1, Rate: 1, Route: player.RouteSpeakers}))

	// Age one row past the cutoff.
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&PlayerPrefs{}).
		Where("player_id = ?", "old").
		Update("updated_at", stale).Error)

	removed, err := repo.PruneStale(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok, err := repo.LoadPrefs("old")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = repo.LoadPrefs("fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}
