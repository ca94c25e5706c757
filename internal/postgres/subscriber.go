// Package postgres implements the subscriber store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marbeck/plansync/internal/domain"
)

// SubscriberStore implements domain.SubscriberStore using PostgreSQL.
type SubscriberStore struct {
	pool *pgxpool.Pool
}

var _ domain.SubscriberStore = (*SubscriberStore)(nil)

// NewSubscriberStore creates a new SubscriberStore instance.
func NewSubscriberStore(pool *pgxpool.Pool) *SubscriberStore {
	return &SubscriberStore{pool: pool}
}

const subscriberColumns = `
	id, email, customer_id, subscription_id, plan_tier, status,
	cancel_at_period_end, period_end, canceled_at, created_at, updated_at`

// FindByUserID retrieves a subscriber by internal user id.
func (s *SubscriberStore) FindByUserID(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+subscriberColumns+`
		FROM subscribers
		WHERE id = $1`, id)
	return scanSubscriber(row, "postgres.FindByUserID")
}

// FindByCustomerID retrieves a subscriber by billing-provider customer id.
func (s *SubscriberStore) FindByCustomerID(ctx context.Context, customerID string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+subscriberColumns+`
		FROM subscribers
		WHERE customer_id = $1`, customerID)
	return scanSubscriber(row, "postgres.FindByCustomerID")
}

// FindByEmail retrieves a subscriber by email.
func (s *SubscriberStore) FindByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+subscriberColumns+`
		FROM subscribers
		WHERE email = $1`, email)
	return scanSubscriber(row, "postgres.FindByEmail")
}

// UpsertByEmail inserts the subscriber or overwrites the reconciled state of
// the row holding the same email. The unique constraint on email makes
// concurrent first-checkout deliveries converge on a single row; the loser of
// the insert race lands in the DO UPDATE branch.
func (s *SubscriberStore) UpsertByEmail(ctx context.Context, sub domain.Subscriber) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscribers (
			id, email, customer_id, subscription_id, plan_tier, status,
			cancel_at_period_end, period_end, canceled_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (email) DO UPDATE SET
			customer_id          = EXCLUDED.customer_id,
			subscription_id      = EXCLUDED.subscription_id,
			plan_tier            = EXCLUDED.plan_tier,
			status               = EXCLUDED.status,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			period_end           = EXCLUDED.period_end,
			canceled_at          = EXCLUDED.canceled_at,
			updated_at           = GREATEST(subscribers.updated_at, EXCLUDED.updated_at)
		RETURNING`+subscriberColumns,
		sub.ID,
		sub.Email,
		nullIfEmpty(sub.CustomerID),
		nullIfEmpty(sub.SubscriptionID),
		string(sub.PlanTier),
		string(sub.Status),
		sub.CancelAtPeriodEnd,
		nullIfZeroTime(sub.PeriodEnd),
		nullIfZeroTime(sub.CanceledAt),
		sub.UpdatedAt,
	)
	return scanSubscriber(row, "postgres.UpsertByEmail")
}

// UpdateByCustomerID writes the reconciled state keyed by customer id, but
// only if the stored updated_at still matches expectedUpdatedAt. A zero-row
// update means either the row vanished or another delivery won the race;
// a follow-up read distinguishes the two.
func (s *SubscriberStore) UpdateByCustomerID(ctx context.Context, sub domain.Subscriber, expectedUpdatedAt time.Time) (*domain.Subscriber, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscribers SET
			email                = $2,
			subscription_id      = $3,
			plan_tier            = $4,
			status               = $5,
			cancel_at_period_end = $6,
			period_end           = $7,
			canceled_at          = $8,
			updated_at           = $9
		WHERE customer_id = $1 AND updated_at = $10
		RETURNING`+subscriberColumns,
		sub.CustomerID,
		sub.Email,
		nullIfEmpty(sub.SubscriptionID),
		string(sub.PlanTier),
		string(sub.Status),
		sub.CancelAtPeriodEnd,
		nullIfZeroTime(sub.PeriodEnd),
		nullIfZeroTime(sub.CanceledAt),
		sub.UpdatedAt,
		expectedUpdatedAt,
	)

	saved, err := scanSubscriber(row, "postgres.UpdateByCustomerID")
	if err == nil {
		return saved, nil
	}
	if !domain.IsCode(err, domain.ENOTFOUND) {
		return nil, err
	}

	// The guarded update matched nothing. If the row still exists the
	// updated_at moved underneath us.
	if _, findErr := s.FindByCustomerID(ctx, sub.CustomerID); findErr == nil {
		return nil, domain.ErrConcurrentUpdate
	}
	return nil, domain.ErrSubscriberNotFound
}

// scanSubscriber reads one subscriber row, mapping pgx.ErrNoRows onto the
// domain sentinel.
func scanSubscriber(row pgx.Row, op string) (*domain.Subscriber, error) {
	var (
		sub            domain.Subscriber
		customerID     *string
		subscriptionID *string
		planTier       string
		status         string
		periodEnd      *time.Time
		canceledAt     *time.Time
	)

	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&customerID,
		&subscriptionID,
		&planTier,
		&status,
		&sub.CancelAtPeriodEnd,
		&periodEnd,
		&canceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriberNotFound
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "subscriber query failed")
	}

	if customerID != nil {
		sub.CustomerID = *customerID
	}
	if subscriptionID != nil {
		sub.SubscriptionID = *subscriptionID
	}
	sub.PlanTier = domain.PlanTier(planTier)
	sub.Status = domain.SubscriptionStatus(status)
	if periodEnd != nil {
		sub.PeriodEnd = periodEnd.UTC()
	}
	if canceledAt != nil {
		sub.CanceledAt = canceledAt.UTC()
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()

	return &sub, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
