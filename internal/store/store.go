package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool

	Users              UserRepository
	Calendars          CalendarRepository
	Objects            CalendarObjectRepository
	OutgoingShares     OutgoingShareRepository
	FederatedCalendars FederatedCalendarRepository
	FederatedObjects   FederatedObjectRepository
}

// New wires concrete repository implementations with a shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:               pool,
		Users:              &userRepo{pool: pool},
		Calendars:          &calendarRepo{pool: pool},
		Objects:            &calendarObjectRepo{pool: pool},
		OutgoingShares:     &outgoingShareRepo{pool: pool},
		FederatedCalendars: &federatedCalendarRepo{pool: pool},
		FederatedObjects:   &federatedObjectRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
