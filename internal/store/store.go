// Package store persists bonding credentials and hourly energy history in
// a local sqlite database. It backs the ble.BondStore interface and gives
// the daemon durable energy data across restarts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/chaz8081/panasonic-hc/internal/climate"
)

// Store wraps the sqlite database.
type Store struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open connects to (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store{
		db:  db,
		log: slog.Default().With("subsystem", "store"),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
    CREATE TABLE IF NOT EXISTS bonds (
        address    TEXT PRIMARY KEY,
        credential BLOB NOT NULL,
        created_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS energy (
        hour_start INTEGER PRIMARY KEY,  -- unix seconds of hour start
        energy_wh  INTEGER NOT NULL
    );
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: create tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the bonding credential for address, if any.
func (s *Store) Load(address string) ([]byte, bool, error) {
	var credential []byte
	err := s.db.Get(&credential, `SELECT credential FROM bonds WHERE address = ?`, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: load bond: %w", err)
	}
	return credential, true, nil
}

// Store saves (or replaces) the bonding credential for address.
func (s *Store) Store(address string, credential []byte) error {
	_, err := s.db.Exec(`
        INSERT INTO bonds (address, credential, created_at) VALUES (?, ?, ?)
        ON CONFLICT(address) DO UPDATE SET credential = excluded.credential, created_at = excluded.created_at`,
		address, credential, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: store bond: %w", err)
	}
	s.log.Info("bond credential saved", "address", address)
	return nil
}

// Delete removes the bonding credential for address.
func (s *Store) Delete(address string) error {
	if _, err := s.db.Exec(`DELETE FROM bonds WHERE address = ?`, address); err != nil {
		return fmt.Errorf("store: delete bond: %w", err)
	}
	return nil
}

// SaveSample upserts one hourly sample, keeping the larger reading for the
// hour. Mirrors the in-memory merge rule so a restart cannot resurrect
// stale replays.
func (s *Store) SaveSample(sample climate.EnergySample) error {
	_, err := s.db.Exec(`
        INSERT INTO energy (hour_start, energy_wh) VALUES (?, ?)
        ON CONFLICT(hour_start) DO UPDATE SET energy_wh = excluded.energy_wh
        WHERE excluded.energy_wh >= energy.energy_wh`,
		sample.HourStart.Truncate(time.Hour).Unix(), sample.EnergyWh)
	if err != nil {
		return fmt.Errorf("store: save sample: %w", err)
	}
	return nil
}

// SamplesSince returns persisted samples with hour_start >= t, ordered.
func (s *Store) SamplesSince(t time.Time) ([]climate.EnergySample, error) {
	var rows []struct {
		HourStart int64 `db:"hour_start"`
		EnergyWh  int   `db:"energy_wh"`
	}
	err := s.db.Select(&rows, `
        SELECT hour_start, energy_wh FROM energy
        WHERE hour_start >= ? ORDER BY hour_start`, t.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: select samples: %w", err)
	}

	samples := make([]climate.EnergySample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, climate.EnergySample{
			HourStart: time.Unix(r.HourStart, 0).UTC(),
			EnergyWh:  r.EnergyWh,
		})
	}
	return samples, nil
}
