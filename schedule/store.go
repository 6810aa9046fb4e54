package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ValidationError is returned by Save when the config violates schedule
// invariants; persistence is refused until Errors is empty.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s", strings.Join(e.Errors, "; "))
}

// AsValidationError unwraps a *ValidationError from err, if present
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Store persists the operating-hours config as a single JSONB row
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a schedule store over an existing pgx pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const createScheduleTableSQL = `
CREATE TABLE IF NOT EXISTS store_schedule_config (
	id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	config JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Init creates the backing table if it does not exist
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createScheduleTableSQL); err != nil {
		return fmt.Errorf("failed to create schedule table: %w", err)
	}
	return nil
}

// Load reads the persisted config. A missing row yields the default config
// (auto-schedule disabled, store treated as always open).
func (s *Store) Load(ctx context.Context) (StoreScheduleConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT config FROM store_schedule_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		log.Debug().Msg("No schedule config persisted, using defaults")
		return StoreScheduleConfig{AutoSchedule: false, Schedules: []DaySchedule{}}, nil
	}
	if err != nil {
		return StoreScheduleConfig{}, fmt.Errorf("failed to load schedule config: %w", err)
	}

	var config StoreScheduleConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return StoreScheduleConfig{}, fmt.Errorf("failed to decode schedule config: %w", err)
	}

	return config, nil
}

// Save re-validates every invariant and refuses to persist while any
// violation remains, returning them as a *ValidationError.
func (s *Store) Save(ctx context.Context, config StoreScheduleConfig) error {
	if result := ValidateAllSchedules(config.Schedules); !result.Valid {
		return &ValidationError{Errors: result.Errors}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode schedule config: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO store_schedule_config (id, config, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`,
		raw)
	if err != nil {
		return fmt.Errorf("failed to persist schedule config: %w", err)
	}

	log.Info().
		Bool("auto_schedule", config.AutoSchedule).
		Int("days", len(config.Schedules)).
		Msg("Saved store schedule config")

	return nil
}
