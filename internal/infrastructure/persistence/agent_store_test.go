package persistence

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/config"
	domainErrors "github.com/cnrmurphy/sentinel/pkg/errors"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDBConnection(&config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "sentinel.db"),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	return db
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func strPtr(s string) *string {
	return &s
}

// === GetOrCreate: first sight ===

func TestAgentStore_GetOrCreate_New(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	agent, err := store.GetOrCreate(ctx, "sess_1", strPtr("/home/dev"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if agent.SessionID != "sess_1" {
		t.Errorf("session id: got %q", agent.SessionID)
	}
	if agent.WorkingDirectory == nil || *agent.WorkingDirectory != "/home/dev" {
		t.Errorf("working directory: got %v", agent.WorkingDirectory)
	}
	if agent.Status != entity.AgentStatusActive {
		t.Errorf("status: got %q", agent.Status)
	}
	if agent.CreatedAt.After(agent.LastSeenAt) {
		t.Error("created_at must not be after last_seen_at")
	}
	if parts := strings.SplitN(agent.Name, "-", 2); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		t.Errorf("name should be adjective-noun, got %q", agent.Name)
	}
}

// === GetOrCreate: idempotence ===

func TestAgentStore_GetOrCreate_Idempotent(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sess_1", nil)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := store.GetOrCreate(ctx, "sess_1", strPtr("/late/dir"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if first.ID != second.ID || first.Name != second.Name {
		t.Errorf("identity changed: %s/%s vs %s/%s", first.ID, first.Name, second.ID, second.Name)
	}
	// Working directory is write-once: absent on first call, so the
	// second call's value sticks.
	if second.WorkingDirectory == nil || *second.WorkingDirectory != "/late/dir" {
		t.Errorf("working directory: got %v", second.WorkingDirectory)
	}

	third, err := store.GetOrCreate(ctx, "sess_1", strPtr("/other"))
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if third.WorkingDirectory == nil || *third.WorkingDirectory != "/late/dir" {
		t.Errorf("working directory overwritten: got %v", third.WorkingDirectory)
	}
}

func TestAgentStore_GetOrCreate_TouchesLastSeen(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	agent, err := store.GetOrCreate(ctx, "sess_1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkInactive(ctx, "sess_1"); err != nil {
		t.Fatalf("mark inactive: %v", err)
	}

	again, err := store.GetOrCreate(ctx, "sess_1", nil)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if again.Status != entity.AgentStatusActive {
		t.Errorf("status should reset to active, got %q", again.Status)
	}
	if again.LastSeenAt.Before(agent.LastSeenAt) {
		t.Error("last_seen_at went backwards")
	}
}

// === Name uniqueness ===

func TestAgentStore_NamesStayUnique(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	names := make(map[string]bool)
	sessions := []string{"s1", "s2", "s3", "s4", "s5"}
	for _, sess := range sessions {
		agent, err := store.GetOrCreate(ctx, sess, nil)
		if err != nil {
			t.Fatalf("GetOrCreate(%s): %v", sess, err)
		}
		names[agent.Name] = true
	}

	if len(names) != len(sessions) {
		t.Errorf("distinct names: got %d, want %d", len(names), len(sessions))
	}
}

// === Lookups ===

func TestAgentStore_FindByNameAndSession(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	created, err := store.GetOrCreate(ctx, "sess_1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byName, err := store.FindByName(ctx, created.Name)
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if byName.ID != created.ID {
		t.Errorf("FindByName returned wrong agent")
	}

	bySession, err := store.FindBySession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if bySession.ID != created.ID {
		t.Errorf("FindBySession returned wrong agent")
	}

	if _, err := store.FindByName(ctx, "no-such"); !domainErrors.IsNotFound(err) {
		t.Errorf("missing name: got %v, want not-found", err)
	}
}

// === ListAll ordering ===

func TestAgentStore_ListAllOrder(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "older", nil); err != nil {
		t.Fatalf("create older: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	newer, err := store.GetOrCreate(ctx, "newer", nil)
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}

	agents, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("got %d agents, want 2", len(agents))
	}
	if agents[0].ID != newer.ID {
		t.Error("most recently seen agent should sort first")
	}
}

// === Topic overwrite ===

func TestAgentStore_UpdateTopic(t *testing.T) {
	store := NewAgentStore(testDB(t), testLogger())
	ctx := context.Background()

	agent, err := store.GetOrCreate(ctx, "sess_1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.UpdateTopic(ctx, agent.ID, "Fix auth bug"); err != nil {
		t.Fatalf("UpdateTopic: %v", err)
	}
	if err := store.UpdateTopic(ctx, agent.ID, "Refactor storage"); err != nil {
		t.Fatalf("UpdateTopic again: %v", err)
	}

	reloaded, err := store.FindBySession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Topic == nil || *reloaded.Topic != "Refactor storage" {
		t.Errorf("topic: got %v, want latest overwrite", reloaded.Topic)
	}
}

// === Read-time status derivation ===

func TestAgent_EffectiveStatus(t *testing.T) {
	now := time.Now().UTC()
	agent := &entity.Agent{
		Status:     entity.AgentStatusActive,
		LastSeenAt: now.Add(-6 * time.Minute),
	}
	if got := agent.EffectiveStatus(now); got != entity.AgentStatusInactive {
		t.Errorf("stale agent: got %q, want inactive", got)
	}

	agent.LastSeenAt = now.Add(-time.Minute)
	if got := agent.EffectiveStatus(now); got != entity.AgentStatusActive {
		t.Errorf("fresh agent: got %q, want active", got)
	}
}
