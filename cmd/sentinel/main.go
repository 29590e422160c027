package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cnrmurphy/sentinel/internal/domain/entity"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/broadcast"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/config"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/logger"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/parser"
	"github.com/cnrmurphy/sentinel/internal/infrastructure/persistence"
	httpiface "github.com/cnrmurphy/sentinel/internal/interfaces/http"
	"github.com/cnrmurphy/sentinel/internal/proxy"
	domainErrors "github.com/cnrmurphy/sentinel/pkg/errors"
)

const (
	appName    = "sentinel"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Flight recorder for AI agent workflows",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy server",
		RunE:  runStart,
	}
	startCmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View captured logs",
		RunE:  runLogs,
	}
	logsCmd.Flags().IntP("limit", "l", 20, "maximum number of events to show")
	logsCmd.Flags().StringP("type", "t", "", "filter by event type (request, response)")
	logsCmd.Flags().Bool("raw", false, "show raw JSON data")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "agents",
		Short: "List tracked agents",
		RunE:  runAgents,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "resume <name>",
		Short: "Resume a Claude Code session by agent name",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ─── start ───

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	log.Info("Using database", zap.String("dsn", cfg.Database.DSN))

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	agentStore := persistence.NewAgentStore(db, log)
	eventStore := persistence.NewEventStore(db, log)
	broadcaster := broadcast.New(log, broadcast.DefaultCapacity)

	engine := proxy.NewEngine(proxy.Options{
		Parser:      parser.NewAnthropicParser(),
		AgentStore:  agentStore,
		EventStore:  eventStore,
		Broadcaster: broadcaster,
		Logger:      log,
	})

	server := httpiface.NewServer(httpiface.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, engine, agentStore, broadcaster, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("Route agent traffic through Sentinel",
		zap.String("hint", fmt.Sprintf("ANTHROPIC_BASE_URL=http://%s", server.Addr())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	broadcaster.Close()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}
	log.Info("Sentinel stopped")
	return nil
}

// ─── logs ───

func runLogs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	eventType, _ := cmd.Flags().GetString("type")
	raw, _ := cmd.Flags().GetBool("raw")

	st, ok, err := openStores()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No logs found. Run 'sentinel start' first to capture some traffic.")
		return nil
	}

	var kind *entity.PayloadKind
	switch eventType {
	case "":
	case "request":
		k := entity.PayloadUserMessage
		kind = &k
	case "response":
		k := entity.PayloadAssistantResponse
		kind = &k
	default:
		return fmt.Errorf("unknown event type %q (want request or response)", eventType)
	}

	events, err := st.events.RecentEvents(context.Background(), limit, kind)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	// Oldest first for reading order.
	for i := len(events) - 1; i >= 0; i-- {
		printEvent(events[i], raw)
	}
	fmt.Printf("\n(%d events shown)\n", len(events))
	return nil
}

func printEvent(event *entity.ObservabilityEvent, raw bool) {
	indicator := "→"
	if event.Payload.Kind() == entity.PayloadAssistantResponse {
		indicator = "←"
	}

	fmt.Printf("\n%s %s [%s] %s\n",
		event.Timestamp.Local().Format("2006-01-02 15:04:05"),
		indicator,
		event.Payload.Kind(),
		event.ID.String()[:8],
	)
	if event.Agent != nil {
		fmt.Printf("  Agent: %s\n", *event.Agent)
	}
	if event.Topic != nil {
		fmt.Printf("  Topic: %s\n", *event.Topic)
	}

	if raw {
		data, err := json.MarshalIndent(event, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
		return
	}

	switch {
	case event.Payload.UserMessage != nil:
		um := event.Payload.UserMessage
		if um.Model != nil {
			fmt.Printf("  Model: %s\n", *um.Model)
		}
		fmt.Printf("  Text: %s\n", preview(um.Text, 80))
	case event.Payload.AssistantResponse != nil:
		ar := event.Payload.AssistantResponse
		if ar.Streaming {
			fmt.Println("  [Streaming response]")
		}
		if ar.Model != nil {
			fmt.Printf("  Model: %s\n", *ar.Model)
		}
		if ar.Usage != nil && ar.Usage.InputTokens != nil && ar.Usage.OutputTokens != nil {
			fmt.Printf("  Tokens: %d in / %d out\n", *ar.Usage.InputTokens, *ar.Usage.OutputTokens)
		}
		if ar.Text != nil {
			fmt.Printf("  Content: %s\n", preview(*ar.Text, 80))
		}
		for _, tc := range ar.ToolCalls {
			fmt.Printf("  Tool: %s\n", tc.Name)
		}
	}
}

// ─── agents ───

func runAgents(cmd *cobra.Command, args []string) error {
	st, ok, err := openStores()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No agents found. Run 'sentinel start' first to capture some traffic.")
		return nil
	}

	agents, err := st.agents.ListAll(context.Background())
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents tracked yet.")
		return nil
	}

	fmt.Printf("%-15s %-10s %-20s %s\n", "NAME", "STATUS", "LAST SEEN", "WORKING DIR")
	fmt.Println(strings.Repeat("-", 70))

	now := time.Now().UTC()
	for _, agent := range agents {
		workingDir := "-"
		if agent.WorkingDirectory != nil {
			workingDir = truncatePath(*agent.WorkingDirectory, 30)
		}
		fmt.Printf("%-15s %-10s %-20s %s\n",
			agent.Name,
			agent.EffectiveStatus(now),
			agent.LastSeenAt.Local().Format("2006-01-02 15:04"),
			workingDir,
		)
	}
	fmt.Printf("\n(%d agents)\n", len(agents))
	return nil
}

// ─── resume ───

func runResume(cmd *cobra.Command, args []string) error {
	name := args[0]

	st, ok, err := openStores()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "No agents found. Run 'sentinel start' first to capture some traffic.")
		os.Exit(1)
	}

	agent, err := st.agents.FindByName(context.Background(), name)
	if err != nil {
		if domainErrors.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Agent '%s' not found.\n", name)
			fmt.Fprintln(os.Stderr, "Run 'sentinel agents' to see available agents.")
			os.Exit(1)
		}
		return err
	}

	fmt.Printf("Resuming agent '%s' (session: %s)\n", agent.Name, agent.SessionID)

	claude := exec.Command("claude", "--resume", agent.SessionID)
	claude.Stdin = os.Stdin
	claude.Stdout = os.Stdout
	claude.Stderr = os.Stderr
	if err := claude.Run(); err != nil {
		if exitErr, isExit := err.(*exec.ExitError); isExit {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
	return nil
}

// ─── shared ───

type stores struct {
	agents *persistence.AgentStore
	events *persistence.EventStore
}

// openStores opens the durable store read-side. The second return is
// false when the sqlite database file does not exist yet.
func openStores() (*stores, bool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, false, fmt.Errorf("config: %w", err)
	}

	if cfg.Database.Type == "sqlite" {
		if _, err := os.Stat(cfg.Database.DSN); err != nil {
			return nil, false, nil
		}
	}

	log := logger.NewQuiet()

	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, false, fmt.Errorf("open database: %w", err)
	}

	return &stores{
		agents: persistence.NewAgentStore(db, log),
		events: persistence.NewEventStore(db, log),
	}, true, nil
}

func preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func truncatePath(path string, max int) string {
	if len(path) <= max {
		return path
	}
	keep := max - 3
	if keep < 0 {
		keep = 0
	}
	return "..." + path[len(path)-keep:]
}
