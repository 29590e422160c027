package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/config"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence"
)

// === Agents listing ===

func TestAgentsHandler_List(t *testing.T) {
	db, err := persistence.NewDBConnection(&config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "sentinel.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := persistence.NewAgentStore(db, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	if _, err := store.GetOrCreate(req.Context(), "sess_1", nil); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/agents", NewAgentsHandler(store, testLogger()).List)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var agents []entity.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("got %d agents, want 1", len(agents))
	}
	if agents[0].SessionID != "sess_1" {
		t.Errorf("session: got %q", agents[0].SessionID)
	}
	if agents[0].Status != entity.AgentStatusActive {
		t.Errorf("fresh agent should report active, got %q", agents[0].Status)
	}
}
