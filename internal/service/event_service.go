package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/internal/models"
	"github.com/noah-isme/workspace-hub-api/pkg/config"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/jobs"
)

type eventLister interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
}

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// eventSink is the narrow publishing surface the mutating services depend
// on. Events are already persisted inside the mutation transaction; the sink
// only fans them out to external consumers.
type eventSink interface {
	Publish(evt *models.Event)
}

// eventPayload marshals event payload fields, returning nil on failure so a
// bad payload never blocks the mutation itself.
func eventPayload(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// EventService serves the mutation event feed and publishes committed events
// to the Redis channel through an in-process worker queue. Publication is
// best-effort: the durable record is the events table.
type EventService struct {
	repo    eventLister
	cache   channelPublisher
	queue   *jobs.Queue
	channel string
	logger  *zap.Logger
}

// NewEventService constructs the event feed and its publisher queue.
func NewEventService(repo eventLister, cache channelPublisher, cfg config.EventsConfig, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "workspace-hub.events"
	}

	s := &EventService{
		repo:    repo,
		cache:   cache,
		channel: channel,
		logger:  logger,
	}
	s.queue = jobs.NewQueue("event-publisher", s.publish, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the publisher workers.
func (s *EventService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the publisher workers.
func (s *EventService) Stop() {
	s.queue.Stop()
}

// Publish enqueues a committed event for channel publication.
func (s *EventService) Publish(evt *models.Event) {
	if evt == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: evt.ID, Type: evt.Kind, Payload: *evt}); err != nil {
		s.logger.Warn("failed to enqueue event for publication",
			zap.String("event_id", evt.ID),
			zap.String("kind", evt.Kind),
			zap.Error(err),
		)
	}
}

func (s *EventService) publish(ctx context.Context, job jobs.Job) error {
	evt, ok := job.Payload.(models.Event)
	if !ok {
		s.logger.Error("event publisher received unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.String("event_id", evt.ID), zap.Error(err))
		return nil
	}
	return s.cache.Publish(ctx, s.channel, payload)
}

// List returns the persisted event feed with pagination metadata.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
