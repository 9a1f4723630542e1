package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gnus-inc/audioplayers/internal/player"
)

// PlayerPrefs is the persisted form of a session's durable attributes.
type PlayerPrefs struct {
	ID       string `gorm:"primaryKey;size:26"`
	PlayerID string `gorm:"uniqueIndex;not null"`
	Volume   float64
	Rate     float64
	Looping  bool
	Route    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the GORM table name.
func (PlayerPrefs) TableName() string { return "player_prefs" }

// PrefsRepository persists session preferences. It implements
// player.PrefsStore.
type PrefsRepository struct {
	db *DB
}

// NewPrefsRepository creates a repository over the given database.
func NewPrefsRepository(db *DB) *PrefsRepository {
	return &PrefsRepository{db: db}
}

// LoadPrefs implements player.PrefsStore.
func (r *PrefsRepository) LoadPrefs(id string) (player.Prefs, bool, error) {
	var row PlayerPrefs
	err := r.db.Where("player_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return player.Prefs{}, false, nil
	}
	if err != nil {
		return player.Prefs{}, false, err
	}
	return player.Prefs{
		Volume:  row.Volume,
		Rate:    row.Rate,
		Looping: row.Looping,
		Route:   player.PlayingRoute(row.Route),
	}, true, nil
}

// SavePrefs implements player.PrefsStore. Rows are keyed by player
// identifier and upserted in place.
func (r *PrefsRepository) SavePrefs(id string, p player.Prefs) error {
	row := PlayerPrefs{
		ID:       newULID(),
		PlayerID: id,
		Volume:   p.Volume,
		Rate:     p.Rate,
		Looping:  p.Looping,
		Route:    string(p.Route),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"volume", "rate", "looping", "route", "updated_at",
		}),
	}).Create(&row).Error
}

// PruneStale deletes preference rows not updated since the cutoff and
// returns how many were removed.
func (r *PrefsRepository) PruneStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := r.db.Where("updated_at < ?", cutoff).Delete(&PlayerPrefs{})
	return res.RowsAffected, res.Error
}

// Count returns the number of stored preference rows.
func (r *PrefsRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&PlayerPrefs{}).Count(&n).Error
	return n, err
}
