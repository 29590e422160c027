package persistence

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence/models"
	domainErrors "github.com/cnrmurphy/sentinel/pkg/errors"
)

// EventStore is the append-only log of observability events.
type EventStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEventStore creates an event store over the shared connection pool.
func NewEventStore(db *gorm.DB, logger *zap.Logger) *EventStore {
	return &EventStore{
		db:     db,
		logger: logger.With(zap.String("component", "event-store")),
	}
}

// Insert appends an event and fills in its durable sequence number.
func (s *EventStore) Insert(ctx context.Context, event *entity.ObservabilityEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to encode event payload", err)
	}

	model := &models.EventModel{
		ID:          event.ID.String(),
		Timestamp:   event.Timestamp,
		SessionID:   event.SessionID,
		Agent:       event.Agent,
		Topic:       event.Topic,
		PayloadType: string(event.Payload.Kind()),
		Payload:     string(payload),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to insert event", err)
	}

	event.Seq = model.Seq
	return nil
}

// RecentEvents returns the newest events, descending by sequence number.
// An optional payload kind narrows the result.
func (s *EventStore) RecentEvents(ctx context.Context, limit int, kind *entity.PayloadKind) ([]*entity.ObservabilityEvent, error) {
	query := s.db.WithContext(ctx).Order("seq DESC").Limit(limit)
	if kind != nil {
		query = query.Where("payload_type = ?", string(*kind))
	}

	var modelList []models.EventModel
	if err := query.Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to query events", err)
	}
	return s.toEntities(modelList), nil
}

// AgentEvents returns the oldest events for one agent, ascending, for
// replay.
func (s *EventStore) AgentEvents(ctx context.Context, agent string, limit int) ([]*entity.ObservabilityEvent, error) {
	var modelList []models.EventModel
	err := s.db.WithContext(ctx).
		Where("agent = ?", agent).
		Order("seq ASC").
		Limit(limit).
		Find(&modelList).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to query agent events", err)
	}
	return s.toEntities(modelList), nil
}

// toEntities converts rows, skipping any that no longer decode.
func (s *EventStore) toEntities(modelList []models.EventModel) []*entity.ObservabilityEvent {
	events := make([]*entity.ObservabilityEvent, 0, len(modelList))
	for i := range modelList {
		event, err := toEventEntity(&modelList[i])
		if err != nil {
			s.logger.Warn("Skipping undecodable event row",
				zap.Int64("seq", modelList[i].Seq),
				zap.Error(err),
			)
			continue
		}
		events = append(events, event)
	}
	return events
}

func toEventEntity(model *models.EventModel) (*entity.ObservabilityEvent, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("corrupt event id", err)
	}

	var payload entity.Payload
	if err := json.Unmarshal([]byte(model.Payload), &payload); err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("corrupt event payload", err)
	}

	return &entity.ObservabilityEvent{
		Seq:       model.Seq,
		ID:        id,
		Timestamp: model.Timestamp,
		SessionID: model.SessionID,
		Agent:     model.Agent,
		Topic:     model.Topic,
		Payload:   payload,
	}, nil
}
