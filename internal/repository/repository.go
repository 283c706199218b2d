package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nikita-zerofy/hems-emulator/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

func (r *Repos) ListDwellings() ([]domain.Dwelling, error) {
	var out []domain.Dwelling
	err := r.db.Select(&out, `SELECT id, user_id, timezone, lat, lng FROM dwellings ORDER BY id`)
	return out, err
}

func (r *Repos) GetDwelling(id string) (*domain.Dwelling, error) {
	var d domain.Dwelling
	err := r.db.Get(&d, `SELECT id, user_id, timezone, lat, lng FROM dwellings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repos) GetDevice(id string) (*domain.Device, error) {
	var d domain.Device
	err := r.db.Get(&d, `SELECT id, dwelling_id, kind, name, config, state, created_at, updated_at
		FROM devices WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repos) DevicesForDwelling(dwellingID string) ([]domain.Device, error) {
	var out []domain.Device
	err := r.db.Select(&out, `SELECT id, dwelling_id, kind, name, config, state, created_at, updated_at
		FROM devices WHERE dwelling_id = $1 ORDER BY id`, dwellingID)
	return out, err
}

// BatchUpdateState replaces device states in one transaction so a dwelling's
// cycle either lands entirely or not at all.
func (r *Repos) BatchUpdateState(updates []domain.StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin batch update: %w", err)
	}
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := tx.Exec(`UPDATE devices SET state = $1::jsonb, updated_at = $2 WHERE id = $3`,
			string(u.State), now, u.DeviceID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update device %s: %w", u.DeviceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch update: %w", err)
	}
	return nil
}

func (r *Repos) InsertDwelling(d *domain.Dwelling) error {
	_, err := r.db.Exec(`INSERT INTO dwellings(id, user_id, timezone, lat, lng) VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.UserID, d.Timezone, d.Lat, d.Lng)
	return err
}

func (r *Repos) InsertDevice(d *domain.Device) error {
	_, err := r.db.Exec(`INSERT INTO devices(id, dwelling_id, kind, name, config, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7,$8)`,
		d.ID, d.DwellingID, d.Kind, d.Name, string(d.Config), string(d.State), d.CreatedAt, d.UpdatedAt)
	return err
}
