package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/pkg/config"
)

type mockEventLister struct {
	events []models.Event
	total  int
}

func (m *mockEventLister) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	return m.events, m.total, nil
}

type mockChannelPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	channels []string
}

func (m *mockChannelPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
	m.payloads = append(m.payloads, payload)
	return nil
}

func TestEventServicePublishesToChannel(t *testing.T) {
	publisher := &mockChannelPublisher{}
	svc := NewEventService(&mockEventLister{}, publisher, config.EventsConfig{
		Channel:    "test.events",
		Workers:    1,
		BufferSize: 4,
	}, zap.NewNop())

	svc.Start(context.Background())
	svc.Publish(&models.Event{ID: "evt-1", Kind: models.EventWorkspaceCreated, EntityID: "1", ActorID: "owner-1", CreatedAt: time.Now().UTC()})
	svc.Stop()

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.payloads, 1)
	assert.Equal(t, "test.events", publisher.channels[0])

	var evt models.Event
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &evt))
	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, models.EventWorkspaceCreated, evt.Kind)
}

func TestEventServiceListPaginationDefaults(t *testing.T) {
	lister := &mockEventLister{
		events: []models.Event{{ID: "evt-1"}, {ID: "evt-2"}},
		total:  42,
	}
	svc := NewEventService(lister, &mockChannelPublisher{}, config.EventsConfig{}, zap.NewNop())

	events, pagination, err := svc.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 42, pagination.TotalCount)
}
