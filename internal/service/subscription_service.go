package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/internal/treasury"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

type subscriptionRepository interface {
	CreatePlan(ctx context.Context, plan *models.StoragePlan, evt *models.Event) error
	FindPlan(ctx context.Context, id int64) (*models.StoragePlan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]models.StoragePlan, error)
	DeactivatePlan(ctx context.Context, id int64, evt *models.Event) error
	FindByWorkspace(ctx context.Context, workspaceID int64) (*models.Subscription, error)
	Subscribe(ctx context.Context, sub *models.Subscription, evt *models.Event, forward func() error) error
	Renew(ctx context.Context, workspaceID int64, period time.Duration, evt *models.Event, forward func() error) (*models.Subscription, error)
}

type subscriptionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CreatePlanRequest describes payload for adding a catalog plan.
type CreatePlanRequest struct {
	Name           string `json:"name" validate:"required"`
	StorageLimitGB int64  `json:"storage_limit_gb" validate:"gt=0"`
	PricePerMonth  int64  `json:"price_per_month" validate:"gte=0"`
	PricePerGB     int64  `json:"price_per_gb" validate:"gte=0"`
}

// SubscribeRequest starts or replaces a workspace's subscription.
type SubscribeRequest struct {
	WorkspaceID  int64 `json:"workspace_id" validate:"required"`
	PlanID       int64 `json:"plan_id" validate:"required"`
	PaymentCents int64 `json:"payment_cents" validate:"gte=0"`
}

// RenewRequest extends a workspace's subscription by one period.
type RenewRequest struct {
	WorkspaceID  int64 `json:"workspace_id" validate:"required"`
	PaymentCents int64 `json:"payment_cents" validate:"gte=0"`
}

// SubscriptionStatus reports the subscription record together with whether
// it is currently in force.
type SubscriptionStatus struct {
	Subscription models.Subscription `json:"subscription"`
	Current      bool                `json:"current"`
}

// SubscriptionService manages the plan catalog and workspace subscriptions.
// Payments are forwarded to the treasury inside the mutation transaction;
// a forwarding failure leaves no trace of the attempt.
type SubscriptionService struct {
	repo       subscriptionRepository
	workspaces workspaceMembers
	cache      subscriptionCache
	treasury   treasury.Collector
	events     eventSink
	guard      *guard.Guard
	validator  *validator.Validate
	logger     *zap.Logger
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewSubscriptionService creates a new subscription service instance.
func NewSubscriptionService(repo subscriptionRepository, workspaces workspaceMembers, cache subscriptionCache, collector treasury.Collector, events eventSink, g *guard.Guard, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &SubscriptionService{
		repo:       repo,
		workspaces: workspaces,
		cache:      cache,
		treasury:   collector,
		events:     events,
		guard:      g,
		validator:  validate,
		logger:     logger,
		cacheTTL:   cacheTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func subscriptionCacheKey(workspaceID int64) string {
	return fmt.Sprintf("subscription:%d", workspaceID)
}

// CreatePlan appends a plan to the catalog. Callers must hold the
// SUPERADMIN global role, enforced at the routing layer.
func (s *SubscriptionService) CreatePlan(ctx context.Context, actorID string, req CreatePlanRequest) (*models.StoragePlan, error) {
	release, err := s.guard.Acquire("plans", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}

	plan := &models.StoragePlan{
		Name:           req.Name,
		StorageLimitGB: req.StorageLimitGB,
		PricePerMonth:  req.PricePerMonth,
		PricePerGB:     req.PricePerGB,
		Active:         true,
	}
	evt := &models.Event{
		Kind:    models.EventPlanCreated,
		ActorID: actorID,
		Payload: eventPayload(map[string]interface{}{"name": req.Name, "price_per_month": req.PricePerMonth}),
	}

	if err := s.repo.CreatePlan(ctx, plan, evt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}

	s.events.Publish(evt)
	return plan, nil
}

// ListPlans returns catalog entries.
func (s *SubscriptionService) ListPlans(ctx context.Context, activeOnly bool) ([]models.StoragePlan, error) {
	plans, err := s.repo.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// GetPlan returns a plan by ID.
func (s *SubscriptionService) GetPlan(ctx context.Context, id int64) (*models.StoragePlan, error) {
	plan, err := s.repo.FindPlan(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan, nil
}

// DeactivatePlan retires a plan from the catalog. Existing subscriptions on
// the plan keep running until expiry.
func (s *SubscriptionService) DeactivatePlan(ctx context.Context, actorID string, planID int64) error {
	release, err := s.guard.Acquire("plans", actorID)
	if err != nil {
		return err
	}
	defer release()

	evt := &models.Event{
		Kind:     models.EventPlanDeactivated,
		EntityID: strconv.FormatInt(planID, 10),
		ActorID:  actorID,
	}

	if err := s.repo.DeactivatePlan(ctx, planID, evt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "plan not found or already inactive")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate plan")
	}

	s.events.Publish(evt)
	return nil
}

// Subscribe starts a workspace subscription on an active plan, replacing any
// previous subscription record. The payment must cover the plan's monthly
// price and is forwarded to the treasury before commit.
func (s *SubscriptionService) Subscribe(ctx context.Context, actorID string, req SubscribeRequest) (*models.Subscription, error) {
	release, err := s.guard.Acquire("subscription", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscribe payload")
	}

	if _, err := s.workspaces.FindByID(ctx, req.WorkspaceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workspace")
	}
	if err := requireWorkspaceRole(ctx, s.workspaces, req.WorkspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
		return nil, err
	}

	plan, err := s.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "plan is no longer available")
	}
	if req.PaymentCents < plan.PricePerMonth {
		return nil, appErrors.Clone(appErrors.ErrInsufficientPayment, "payment does not cover the plan price")
	}

	now := s.now()
	sub := &models.Subscription{
		WorkspaceID:  req.WorkspaceID,
		PlanID:       req.PlanID,
		SubscriberID: actorID,
		StartedAt:    now,
		ExpiresAt:    now.Add(models.SubscriptionPeriod),
		Active:       true,
	}
	evt := &models.Event{
		Kind:     models.EventSubscribed,
		EntityID: strconv.FormatInt(req.WorkspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]interface{}{"plan_id": req.PlanID, "expires_at": sub.ExpiresAt}),
	}

	forward := s.forwardPayment(ctx, req.WorkspaceID, req.PlanID, req.PaymentCents, evt)
	if err := s.repo.Subscribe(ctx, sub, evt, forward); err != nil {
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to subscribe")
	}

	s.invalidate(ctx, req.WorkspaceID)
	s.events.Publish(evt)
	s.logger.Info("workspace subscribed",
		zap.Int64("workspace_id", req.WorkspaceID),
		zap.Int64("plan_id", req.PlanID),
	)
	return sub, nil
}

// Renew extends the subscription by one period, added to the stored expiry
// rather than to the current time so early renewals never forfeit paid time.
func (s *SubscriptionService) Renew(ctx context.Context, actorID string, req RenewRequest) (*models.Subscription, error) {
	release, err := s.guard.Acquire("subscription", actorID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid renew payload")
	}

	if err := requireWorkspaceRole(ctx, s.workspaces, req.WorkspaceID, actorID, models.WorkspaceRoleAdmin); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace has no subscription")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if !existing.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "subscription is not active")
	}

	plan, err := s.GetPlan(ctx, existing.PlanID)
	if err != nil {
		return nil, err
	}
	if req.PaymentCents < plan.PricePerMonth {
		return nil, appErrors.Clone(appErrors.ErrInsufficientPayment, "payment does not cover the plan price")
	}

	evt := &models.Event{
		Kind:     models.EventSubscriptionRenewed,
		EntityID: strconv.FormatInt(req.WorkspaceID, 10),
		ActorID:  actorID,
		Payload:  eventPayload(map[string]int64{"plan_id": existing.PlanID}),
	}

	forward := s.forwardPayment(ctx, req.WorkspaceID, existing.PlanID, req.PaymentCents, evt)
	renewed, err := s.repo.Renew(ctx, req.WorkspaceID, models.SubscriptionPeriod, evt, forward)
	if err != nil {
		var typed *appErrors.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace has no subscription")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to renew subscription")
	}

	s.invalidate(ctx, req.WorkspaceID)
	s.events.Publish(evt)
	return renewed, nil
}

// Status returns the workspace's subscription and whether it is in force at
// the time of the call. The record is cached; currency is always evaluated
// against the clock, never cached.
func (s *SubscriptionService) Status(ctx context.Context, workspaceID int64) (*SubscriptionStatus, error) {
	key := subscriptionCacheKey(workspaceID)

	var sub models.Subscription
	if err := s.cache.Get(ctx, key, &sub); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("subscription cache read failed", zap.Error(err))
		}
		stored, err := s.repo.FindByWorkspace(ctx, workspaceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace has no subscription")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
		}
		sub = *stored
		if err := s.cache.Set(ctx, key, sub, s.cacheTTL); err != nil {
			s.logger.Warn("subscription cache write failed", zap.Error(err))
		}
	}

	return &SubscriptionStatus{Subscription: sub, Current: sub.IsCurrent(s.now())}, nil
}

// IsActive reports whether the workspace currently has an in-force
// subscription. Missing subscriptions are simply inactive.
func (s *SubscriptionService) IsActive(ctx context.Context, workspaceID int64) (bool, error) {
	status, err := s.Status(ctx, workspaceID)
	if err != nil {
		var typed *appErrors.Error
		if errors.As(err, &typed) && typed.Code == appErrors.ErrNotFound.Code {
			return false, nil
		}
		return false, err
	}
	return status.Current, nil
}

// forwardPayment builds the in-transaction forwarding callback. The event id
// is read lazily because the repository assigns it while persisting the
// event, before the callback runs.
func (s *SubscriptionService) forwardPayment(ctx context.Context, workspaceID, planID, amountCents int64, evt *models.Event) func() error {
	return func() error {
		payment := treasury.Payment{
			WorkspaceID: workspaceID,
			PlanID:      planID,
			AmountCents: amountCents,
			Reference:   evt.ID,
		}
		if err := s.treasury.Forward(ctx, payment); err != nil {
			return appErrors.Wrap(err, appErrors.ErrPaymentForwarding.Code, appErrors.ErrPaymentForwarding.Status, "payment forwarding failed")
		}
		return nil
	}
}

func (s *SubscriptionService) invalidate(ctx context.Context, workspaceID int64) {
	if err := s.cache.Delete(ctx, subscriptionCacheKey(workspaceID)); err != nil {
		s.logger.Warn("subscription cache invalidation failed", zap.Int64("workspace_id", workspaceID), zap.Error(err))
	}
}
