package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/guard"
	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/internal/treasury"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
)

type mockSubscriptionRepo struct {
	nextPlanID    int64
	plans         map[int64]*models.StoragePlan
	subscriptions map[int64]*models.Subscription
}

func newMockSubscriptionRepo() *mockSubscriptionRepo {
	return &mockSubscriptionRepo{
		plans:         make(map[int64]*models.StoragePlan),
		subscriptions: make(map[int64]*models.Subscription),
	}
}

func (m *mockSubscriptionRepo) seedPlan(id int64, priceCents int64, active bool) {
	m.plans[id] = &models.StoragePlan{ID: id, Name: "plan", StorageLimitGB: 100, PricePerMonth: priceCents, Active: active}
}

func (m *mockSubscriptionRepo) CreatePlan(ctx context.Context, plan *models.StoragePlan, evt *models.Event) error {
	m.nextPlanID++
	plan.ID = m.nextPlanID
	plan.CreatedAt = time.Now().UTC()
	cp := *plan
	m.plans[plan.ID] = &cp
	return nil
}

func (m *mockSubscriptionRepo) FindPlan(ctx context.Context, id int64) (*models.StoragePlan, error) {
	if plan, ok := m.plans[id]; ok {
		cp := *plan
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) ListPlans(ctx context.Context, activeOnly bool) ([]models.StoragePlan, error) {
	var out []models.StoragePlan
	for _, plan := range m.plans {
		if activeOnly && !plan.Active {
			continue
		}
		out = append(out, *plan)
	}
	return out, nil
}

func (m *mockSubscriptionRepo) DeactivatePlan(ctx context.Context, id int64, evt *models.Event) error {
	plan, ok := m.plans[id]
	if !ok || !plan.Active {
		return sql.ErrNoRows
	}
	plan.Active = false
	return nil
}

func (m *mockSubscriptionRepo) FindByWorkspace(ctx context.Context, workspaceID int64) (*models.Subscription, error) {
	if sub, ok := m.subscriptions[workspaceID]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) Subscribe(ctx context.Context, sub *models.Subscription, evt *models.Event, forward func() error) error {
	evt.ID = "evt-1"
	if err := forward(); err != nil {
		return err
	}
	cp := *sub
	m.subscriptions[sub.WorkspaceID] = &cp
	return nil
}

func (m *mockSubscriptionRepo) Renew(ctx context.Context, workspaceID int64, period time.Duration, evt *models.Event, forward func() error) (*models.Subscription, error) {
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	evt.ID = "evt-2"
	if err := forward(); err != nil {
		return nil, err
	}
	sub.ExpiresAt = sub.ExpiresAt.Add(period)
	cp := *sub
	return &cp, nil
}

type mockCache struct {
	entries map[string][]byte
	gets    int
	hits    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.gets++
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	m.hits++
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	delete(m.entries, key)
	return nil
}

type mockCollector struct {
	forwarded []treasury.Payment
	err       error
}

func (m *mockCollector) Forward(ctx context.Context, p treasury.Payment) error {
	if m.err != nil {
		return m.err
	}
	m.forwarded = append(m.forwarded, p)
	return nil
}

type subscriptionFixture struct {
	repo      *mockSubscriptionRepo
	members   *mockWorkspaceRepo
	cache     *mockCache
	collector *mockCollector
	sink      *mockEventSink
	svc       *SubscriptionService
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	f := &subscriptionFixture{
		repo:      newMockSubscriptionRepo(),
		members:   newMockWorkspaceRepo(),
		cache:     newMockCache(),
		collector: &mockCollector{},
		sink:      &mockEventSink{},
	}
	f.members.seedWorkspace(1, "owner-1")
	f.svc = NewSubscriptionService(f.repo, f.members, f.cache, f.collector, f.sink, guard.New(), time.Minute, validator.New(), zap.NewNop())
	return f
}

func TestSubscriptionServiceSubscribe(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	sub, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, sub.StartedAt.Add(models.SubscriptionPeriod), sub.ExpiresAt)

	require.Len(t, f.collector.forwarded, 1)
	assert.Equal(t, int64(999), f.collector.forwarded[0].AmountCents)
	assert.Equal(t, "evt-1", f.collector.forwarded[0].Reference)
	assert.Equal(t, []string{models.EventSubscribed}, f.sink.kinds())
}

func TestSubscriptionServiceSubscribeInsufficientPayment(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 500})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInsufficientPayment.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.collector.forwarded)
	assert.Empty(t, f.repo.subscriptions)
}

func TestSubscriptionServiceSubscribeInactivePlan(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, false)

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceSubscribeRequiresWorkspaceAdmin(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)
	f.members.seedMember(1, "member-1", models.WorkspaceRoleMember)

	_, err := f.svc.Subscribe(context.Background(), "member-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceForwardingFailureAbortsSubscribe(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)
	f.collector.err = errors.New("treasury unreachable")

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPaymentForwarding.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.repo.subscriptions, "a failed forward must leave no subscription behind")
	assert.Empty(t, f.sink.kinds())
}

func TestSubscriptionServiceRenewIsAdditive(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	sub, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.NoError(t, err)
	firstExpiry := sub.ExpiresAt

	// Renewing well before expiry extends from the stored expiry, not from
	// the current time.
	renewed, err := f.svc.Renew(context.Background(), "owner-1", RenewRequest{WorkspaceID: 1, PaymentCents: 999})
	require.NoError(t, err)
	assert.Equal(t, firstExpiry.Add(models.SubscriptionPeriod), renewed.ExpiresAt)
	assert.Contains(t, f.sink.kinds(), models.EventSubscriptionRenewed)
}

func TestSubscriptionServiceRenewWithoutSubscription(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	_, err := f.svc.Renew(context.Background(), "owner-1", RenewRequest{WorkspaceID: 1, PaymentCents: 999})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceRenewInactiveSubscription(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.NoError(t, err)
	f.repo.subscriptions[1].Active = false

	_, err = f.svc.Renew(context.Background(), "owner-1", RenewRequest{WorkspaceID: 1, PaymentCents: 999})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestSubscriptionServiceStatusUsesCache(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.NoError(t, err)

	status, err := f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Current)

	status, err = f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Current)
	assert.Equal(t, 1, f.cache.hits, "second read should come from cache")
}

func TestSubscriptionServiceCurrencyNeverCached(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	_, err := f.svc.Subscribe(context.Background(), "owner-1", SubscribeRequest{WorkspaceID: 1, PlanID: 10, PaymentCents: 999})
	require.NoError(t, err)

	status, err := f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Current)

	// Move the clock past expiry: the cached record may still be served but
	// currency must flip immediately.
	f.svc.now = func() time.Time { return time.Now().UTC().Add(models.SubscriptionPeriod + time.Hour) }

	status, err = f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, status.Current)
}

func TestSubscriptionServiceIsActiveFalseWhenMissing(t *testing.T) {
	f := newSubscriptionFixture(t)

	active, err := f.svc.IsActive(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSubscriptionServiceDeactivatePlan(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.repo.seedPlan(10, 999, true)

	require.NoError(t, f.svc.DeactivatePlan(context.Background(), "root", 10))
	assert.False(t, f.repo.plans[10].Active)

	err := f.svc.DeactivatePlan(context.Background(), "root", 10)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
