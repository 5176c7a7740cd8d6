package models

import "time"

// SubscriptionPeriod is the fixed billing period for every plan.
const SubscriptionPeriod = 30 * 24 * time.Hour

// StoragePlan is a catalog entry. The catalog is append-only: plans are
// deactivated, never removed. Prices are in cents.
type StoragePlan struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	StorageLimitGB int64     `db:"storage_limit_gb" json:"storage_limit_gb"`
	PricePerMonth  int64     `db:"price_per_month" json:"price_per_month"`
	PricePerGB     int64     `db:"price_per_gb" json:"price_per_gb"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Subscription is the single subscription record per workspace. Renewal
// extends ExpiresAt additively from its stored value, so renewing early
// never forfeits paid time.
type Subscription struct {
	WorkspaceID      int64     `db:"workspace_id" json:"workspace_id"`
	PlanID           int64     `db:"plan_id" json:"plan_id"`
	SubscriberID     string    `db:"subscriber_id" json:"subscriber_id"`
	StartedAt        time.Time `db:"started_at" json:"started_at"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	StorageUsedBytes int64     `db:"storage_used_bytes" json:"storage_used_bytes"`
	Active           bool      `db:"active" json:"active"`
}

// IsCurrent reports whether the subscription is active with an expiry
// strictly in the future at the given instant.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s != nil && s.Active && s.ExpiresAt.After(now)
}
