package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence/models"
	domainErrors "github.com/cnrmurphy/sentinel/pkg/errors"
)

// nameAttempts caps the name-collision retry loop. 400 possible names
// make collisions rare; exhaustion is treated as a store failure.
const nameAttempts = 10

// AgentStore persists agent identities keyed by session id.
type AgentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAgentStore creates an agent store over the shared connection pool.
func NewAgentStore(db *gorm.DB, logger *zap.Logger) *AgentStore {
	return &AgentStore{
		db:     db,
		logger: logger.With(zap.String("component", "agent-store")),
	}
}

// GetOrCreate finds the agent for a session id, creating it on first
// sight. Existing agents get their last-seen timestamp advanced and their
// status reset to active; the working directory is write-once — recorded
// on the first request that carries one, never overwritten.
func (s *AgentStore) GetOrCreate(ctx context.Context, sessionID string, workingDirectory *string) (*entity.Agent, error) {
	agent, err := s.FindBySession(ctx, sessionID)
	if err != nil && !domainErrors.IsNotFound(err) {
		return nil, err
	}

	if agent != nil {
		now := time.Now().UTC()
		updates := map[string]any{
			"last_seen_at": now,
			"status":       string(entity.AgentStatusActive),
		}
		if agent.WorkingDirectory == nil && workingDirectory != nil && *workingDirectory != "" {
			updates["working_directory"] = *workingDirectory
			agent.WorkingDirectory = workingDirectory
		}
		if err := s.db.WithContext(ctx).Model(&models.AgentModel{}).
			Where("id = ?", agent.ID.String()).
			Updates(updates).Error; err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to touch agent", err)
		}
		agent.LastSeenAt = now
		agent.Status = entity.AgentStatusActive
		return agent, nil
	}

	name, err := s.allocateName(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agent = &entity.Agent{
		ID:               uuid.New(),
		Name:             name,
		SessionID:        sessionID,
		WorkingDirectory: workingDirectory,
		CreatedAt:        now,
		LastSeenAt:       now,
		Status:           entity.AgentStatusActive,
	}

	if err := s.db.WithContext(ctx).Create(toAgentModel(agent)).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to insert agent", err)
	}

	s.logger.Info("New agent created",
		zap.String("agent", agent.Name),
		zap.String("session_id", sessionID),
	)
	return agent, nil
}

// allocateName draws names until one is unused, giving up after a bounded
// number of attempts.
func (s *AgentStore) allocateName(ctx context.Context) (string, error) {
	for i := 0; i < nameAttempts; i++ {
		name := entity.GenerateAgentName()
		_, err := s.FindByName(ctx, name)
		if domainErrors.IsNotFound(err) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", domainErrors.NewExhaustedError("agent name space exhausted after retries")
}

// FindByName looks up an agent by its generated name.
func (s *AgentStore) FindByName(ctx context.Context, name string) (*entity.Agent, error) {
	var model models.AgentModel
	if err := s.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("agent not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find agent", err)
	}
	return toAgentEntity(&model)
}

// FindBySession looks up an agent by its session id.
func (s *AgentStore) FindBySession(ctx context.Context, sessionID string) (*entity.Agent, error) {
	var model models.AgentModel
	if err := s.db.WithContext(ctx).First(&model, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("agent not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find agent", err)
	}
	return toAgentEntity(&model)
}

// ListAll returns every tracked agent, most recently seen first.
func (s *AgentStore) ListAll(ctx context.Context) ([]*entity.Agent, error) {
	var modelList []models.AgentModel
	if err := s.db.WithContext(ctx).Order("last_seen_at DESC").Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list agents", err)
	}

	agents := make([]*entity.Agent, 0, len(modelList))
	for i := range modelList {
		agent, err := toAgentEntity(&modelList[i])
		if err != nil {
			continue
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// MarkInactive records an explicit session termination.
func (s *AgentStore) MarkInactive(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).Model(&models.AgentModel{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"status":       string(entity.AgentStatusInactive),
			"last_seen_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to mark agent inactive", err)
	}
	return nil
}

// UpdateTopic overwrites the agent's latest subject line.
func (s *AgentStore) UpdateTopic(ctx context.Context, id uuid.UUID, topic string) error {
	err := s.db.WithContext(ctx).Model(&models.AgentModel{}).
		Where("id = ?", id.String()).
		Update("topic", topic).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update agent topic", err)
	}
	return nil
}

func toAgentModel(agent *entity.Agent) *models.AgentModel {
	var topic *string
	if agent.Topic != nil {
		topic = agent.Topic
	}
	return &models.AgentModel{
		ID:               agent.ID.String(),
		Name:             agent.Name,
		SessionID:        agent.SessionID,
		WorkingDirectory: agent.WorkingDirectory,
		Topic:            topic,
		CreatedAt:        agent.CreatedAt,
		LastSeenAt:       agent.LastSeenAt,
		Status:           string(agent.Status),
	}
}

func toAgentEntity(model *models.AgentModel) (*entity.Agent, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("corrupt agent id", err)
	}
	return &entity.Agent{
		ID:               id,
		Name:             model.Name,
		SessionID:        model.SessionID,
		WorkingDirectory: model.WorkingDirectory,
		Topic:            model.Topic,
		CreatedAt:        model.CreatedAt,
		LastSeenAt:       model.LastSeenAt,
		Status:           entity.AgentStatus(model.Status),
	}, nil
}
