package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/internal/service"
	"github.com/noah-isme/workspace-hub-api/pkg/config"
)

type eventListerStub struct {
	events     []models.Event
	total      int
	err        error
	lastFilter models.EventFilter
}

func (s *eventListerStub) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	s.lastFilter = filter
	return s.events, s.total, s.err
}

type channelPublisherStub struct{}

func (channelPublisherStub) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func newEventHandler(lister *eventListerStub) *EventHandler {
	svc := service.NewEventService(lister, channelPublisherStub{}, config.EventsConfig{}, zap.NewNop())
	return NewEventHandler(svc)
}

func TestEventHandlerListAppliesQueryFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	lister := &eventListerStub{
		events: []models.Event{{ID: "evt-1", Kind: models.EventWorkspaceCreated, EntityID: "7"}},
		total:  1,
	}
	handler := newEventHandler(lister)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/events?kind=WORKSPACE_CREATED&entityId=7&page=2&limit=5", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "WORKSPACE_CREATED", lister.lastFilter.Kind)
	assert.Equal(t, "7", lister.lastFilter.EntityID)
	assert.Equal(t, 2, lister.lastFilter.Page)
	assert.Equal(t, 5, lister.lastFilter.PageSize)

	var envelope struct {
		Data       []models.Event     `json:"data"`
		Pagination *models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "evt-1", envelope.Data[0].ID)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 2, envelope.Pagination.Page)
	assert.Equal(t, 5, envelope.Pagination.PageSize)
}

func TestEventHandlerListServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newEventHandler(&eventListerStub{err: errors.New("boom")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/events", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
