package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/workspace-hub-api/internal/models"
)

// SubscriptionRepository owns the storage_plans and subscriptions tables.
// Subscribe and Renew accept a forward callback that is invoked inside the
// transaction: when payment forwarding fails, the whole mutation rolls back
// and no observable state changes.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository creates a new instance of SubscriptionRepository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// CreatePlan appends a plan to the catalog.
func (r *SubscriptionRepository) CreatePlan(ctx context.Context, plan *models.StoragePlan, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create plan: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id, err := nextSequence(ctx, tx, seqPlan)
	if err != nil {
		return err
	}
	plan.ID = id
	plan.CreatedAt = time.Now().UTC()
	evt.EntityID = fmt.Sprintf("%d", id)

	const query = `INSERT INTO storage_plans (id, name, storage_limit_gb, price_per_month, price_per_gb, active, created_at)
		VALUES (:id, :name, :storage_limit_gb, :price_per_month, :price_per_gb, :active, :created_at)`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create plan: %w", err)
	}
	return nil
}

// FindPlan returns a plan by identifier.
func (r *SubscriptionRepository) FindPlan(ctx context.Context, id int64) (*models.StoragePlan, error) {
	const query = `SELECT id, name, storage_limit_gb, price_per_month, price_per_gb, active, created_at FROM storage_plans WHERE id = $1 LIMIT 1`
	var plan models.StoragePlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find plan by id: %w", err)
	}
	return &plan, nil
}

// ListPlans returns catalog entries, optionally active only.
func (r *SubscriptionRepository) ListPlans(ctx context.Context, activeOnly bool) ([]models.StoragePlan, error) {
	query := `SELECT id, name, storage_limit_gb, price_per_month, price_per_gb, active, created_at FROM storage_plans`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id ASC`
	var plans []models.StoragePlan
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// DeactivatePlan flips the active flag; catalog entries are never removed.
func (r *SubscriptionRepository) DeactivatePlan(ctx context.Context, id int64, evt *models.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate plan: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE storage_plans SET active = FALSE WHERE id = $1 AND active = TRUE`, id)
	if err != nil {
		return fmt.Errorf("deactivate plan: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit deactivate plan: %w", err)
	}
	return nil
}

// FindByWorkspace returns the workspace's subscription record.
func (r *SubscriptionRepository) FindByWorkspace(ctx context.Context, workspaceID int64) (*models.Subscription, error) {
	const query = `SELECT workspace_id, plan_id, subscriber_id, started_at, expires_at, storage_used_bytes, active FROM subscriptions WHERE workspace_id = $1 LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, workspaceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return &sub, nil
}

// Subscribe creates or overwrites the workspace's single subscription
// record, then invokes forward before committing. A forwarding error rolls
// everything back.
func (r *SubscriptionRepository) Subscribe(ctx context.Context, sub *models.Subscription, evt *models.Event, forward func() error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin subscribe: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO subscriptions (workspace_id, plan_id, subscriber_id, started_at, expires_at, storage_used_bytes, active)
		VALUES (:workspace_id, :plan_id, :subscriber_id, :started_at, :expires_at, :storage_used_bytes, :active)
		ON CONFLICT (workspace_id) DO UPDATE SET plan_id = EXCLUDED.plan_id, subscriber_id = EXCLUDED.subscriber_id, started_at = EXCLUDED.started_at, expires_at = EXCLUDED.expires_at, storage_used_bytes = EXCLUDED.storage_used_bytes, active = EXCLUDED.active`
	if _, err = sqlx.NamedExecContext(ctx, tx, query, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return err
	}

	if err = forward(); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit subscribe: %w", err)
	}
	return nil
}

// Renew extends the stored expiry additively by the given period, never
// relative to now, so early renewals keep remaining paid time. The forward
// callback runs before commit under the same rollback contract as Subscribe.
func (r *SubscriptionRepository) Renew(ctx context.Context, workspaceID int64, period time.Duration, evt *models.Event, forward func() error) (*models.Subscription, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin renew: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var sub models.Subscription
	if err = tx.GetContext(ctx, &sub, `SELECT workspace_id, plan_id, subscriber_id, started_at, expires_at, storage_used_bytes, active FROM subscriptions WHERE workspace_id = $1 FOR UPDATE`, workspaceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock subscription: %w", err)
	}

	sub.ExpiresAt = sub.ExpiresAt.Add(period)
	if _, err = tx.ExecContext(ctx, `UPDATE subscriptions SET expires_at = $2 WHERE workspace_id = $1`, workspaceID, sub.ExpiresAt); err != nil {
		return nil, fmt.Errorf("renew subscription: %w", err)
	}

	if err = insertEvent(ctx, tx, evt); err != nil {
		return nil, err
	}

	if err = forward(); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit renew: %w", err)
	}
	return &sub, nil
}
