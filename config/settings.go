package config

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Settings carries the admin-editable platform parameters consumed by the
// lifecycle and settlement operations. A Settings value is loaded once per
// request or sweep tick and passed into operations explicitly.
type Settings struct {
	CommissionPercent float64
	MinGigCents       int64
	MaxGigCents       int64
	MaxRateCents      int64
	AutoReleaseWindow time.Duration
	GigExpiryWindow   time.Duration
	FundingTimeout    time.Duration
}

// Defaults returns the compiled-in fallback used whenever the settings store
// is unavailable or a key is missing.
func Defaults() Settings {
	return Settings{
		CommissionPercent: 10,
		MinGigCents:       500,
		MaxGigCents:       10_000_000,
		MaxRateCents:      10_000_000,
		AutoReleaseWindow: 7 * 24 * time.Hour,
		GigExpiryWindow:   7 * 24 * time.Hour,
		FundingTimeout:    72 * time.Hour,
	}
}

// Setting keys as stored in platform_settings. Durations are stored in hours,
// the commission percent in basis points.
const (
	keyCommissionBps     = "commission_bps"
	keyMinGigCents       = "min_gig_cents"
	keyMaxGigCents       = "max_gig_cents"
	keyMaxRateCents      = "max_rate_cents"
	keyAutoReleaseHours  = "auto_release_hours"
	keyGigExpiryHours    = "gig_expiry_hours"
	keyFundingTimeoutHrs = "funding_timeout_hours"
)

// Store reads platform settings from the database, falling back per key to
// Defaults when a row is absent and wholesale when the store is unreachable.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log}
}

// Load fetches the current settings. It never fails: on any store error it
// logs a warning and returns Defaults so callers keep operating on the
// documented fallback values.
func (s *Store) Load(ctx context.Context) Settings {
	out := Defaults()

	rows, err := s.pool.Query(ctx, `SELECT key, value_int FROM platform_settings`)
	if err != nil {
		s.log.Warn().Err(err).Msg("settings store unavailable, using defaults")
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			s.log.Warn().Err(err).Msg("settings row unreadable, using defaults")
			return Defaults()
		}
		applySetting(&out, key, value)
	}
	if err := rows.Err(); err != nil {
		s.log.Warn().Err(err).Msg("settings read interrupted, using defaults")
		return Defaults()
	}

	return out
}

func applySetting(s *Settings, key string, value int64) {
	switch key {
	case keyCommissionBps:
		if value >= 0 && value <= 10_000 {
			s.CommissionPercent = float64(value) / 100
		}
	case keyMinGigCents:
		if value > 0 {
			s.MinGigCents = value
		}
	case keyMaxGigCents:
		if value > 0 {
			s.MaxGigCents = value
		}
	case keyMaxRateCents:
		if value > 0 {
			s.MaxRateCents = value
		}
	case keyAutoReleaseHours:
		if value > 0 {
			s.AutoReleaseWindow = time.Duration(value) * time.Hour
		}
	case keyGigExpiryHours:
		if value > 0 {
			s.GigExpiryWindow = time.Duration(value) * time.Hour
		}
	case keyFundingTimeoutHrs:
		if value > 0 {
			s.FundingTimeout = time.Duration(value) * time.Hour
		}
	}
}
