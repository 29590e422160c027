package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence"
)

// AgentsHandler serves read-only agent listings.
type AgentsHandler struct {
	agents *persistence.AgentStore
	logger *zap.Logger
}

// NewAgentsHandler creates the agents listing handler.
func NewAgentsHandler(agents *persistence.AgentStore, logger *zap.Logger) *AgentsHandler {
	return &AgentsHandler{
		agents: agents,
		logger: logger.With(zap.String("handler", "agents")),
	}
}

// List handles GET /api/agents. Status is derived at read time: an agent
// unseen for five minutes reports inactive whatever the stored status.
func (h *AgentsHandler) List(c *gin.Context) {
	agents, err := h.agents.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list agents", zap.Error(err))
		c.JSON(http.StatusOK, []entity.Agent{})
		return
	}

	now := time.Now().UTC()
	out := make([]entity.Agent, 0, len(agents))
	for _, agent := range agents {
		a := *agent
		a.Status = a.EffectiveStatus(now)
		out = append(out, a)
	}
	c.JSON(http.StatusOK, out)
}
