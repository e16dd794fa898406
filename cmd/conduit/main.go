// Command conduit wires the runtime's collaborators together and drives
// one agent turn from the terminal: load config, build the LLM provider,
// context manager, skill registry, memory stores, and agent loop, then
// print the event stream for a single utterance. It is a smoke-test
// harness for the runtime's components (§12), not a production server —
// the HTTP/A2A gateway cmd/hector's serve.go builds is explicitly out of
// scope (§1 non-goal).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/arcveil/conduit/agentloop"
	"github.com/arcveil/conduit/config"
	"github.com/arcveil/conduit/contextwindow"
	"github.com/arcveil/conduit/llm"
	"github.com/arcveil/conduit/memory/history"
	"github.com/arcveil/conduit/memory/longterm"
	"github.com/arcveil/conduit/memory/shortterm"
	"github.com/arcveil/conduit/observability"
	"github.com/arcveil/conduit/pkg/logger"
	"github.com/arcveil/conduit/skill"
	"github.com/arcveil/conduit/skill/localskill"
	"github.com/arcveil/conduit/skill/mcpskill"
	"github.com/arcveil/conduit/task"
)

// CLI defines the command-line interface.
type CLI struct {
	Run RunCmd `cmd:"" default:"1" help:"Run a single agent turn."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// RunCmd drives one agent turn against a session and prints every event.
type RunCmd struct {
	Session string `help:"Session id." default:"cli-session"`
	Message string `arg:"" help:"User message."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("conduit"), kong.Description("Agent orchestration runtime"))

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger.Init(level, os.Stderr, "text")

	switch ctx.Command() {
	case "run <message>":
		if err := runOnce(cli); err != nil {
			slog.Error("conduit: run failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown command")
		os.Exit(1)
	}
}

func runOnce(cli CLI) error {
	ctx := context.Background()

	cfg := &config.Config{}
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.SetDefaults()
	}

	provider, err := buildLLMProvider(cfg)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	ctxWindow := contextwindow.New(contextwindow.Config{
		MaxTokens:      cfg.ContextWindow.MaxTokens,
		ReservedTokens: cfg.ContextWindow.ReservedTokens,
		LLM:            provider,
	})

	skills := skill.NewRegistry()
	if err := registerSkillSources(ctx, skills, cfg); err != nil {
		return fmt.Errorf("register skill sources: %w", err)
	}

	shortTermMgr := shortterm.NewManager(shortterm.Config{
		MaxSessions:  cfg.Memory.ShortTerm.MaxSessions,
		TickInterval: time.Duration(cfg.Memory.ShortTerm.TickIntervalSec) * time.Second,
	})
	defer shortTermMgr.Shutdown()
	_ = shortTermMgr.GetSession(cli.Run.Session)

	longTermStore, err := buildLongTermStore(cfg)
	if err != nil {
		return fmt.Errorf("build long-term memory: %w", err)
	}

	historyRepo := history.NewRepo()
	historyRepo.CreateSession(cli.Run.Session, "")
	priorMessages := historyRepo.GetMessages(cli.Run.Session)

	taskRepo := task.NewRepo()
	taskExecutor := task.NewExecutor(taskRepo, task.BuildHandler(skills))

	if _, err := observability.NewMetrics(observability.MetricsConfig{
		Enabled: cfg.Observability.MetricsEnabled, Namespace: "conduit",
	}); err != nil {
		slog.Warn("conduit: metrics init failed", "error", err)
	}

	loop := agentloop.New(agentloop.Dependencies{
		LLM:           provider,
		ContextWindow: ctxWindow,
		Skills:        skills,
		LongTerm:      longTermStore,
		TaskRepo:      taskRepo,
		TaskExecutor:  taskExecutor,
		SystemPrompt:  cfg.AgentLoop.SystemPrompt,
		MaxIterations: cfg.AgentLoop.MaxIterations,
	})

	input := agentloop.Input{SessionID: cli.Run.Session, Text: cli.Run.Message, History: priorMessages}
	historyRepo.SaveMessage(cli.Run.Session, llm.Message{Role: llm.RoleUser, Content: cli.Run.Message})

	for event, err := range loop.Run(ctx, input) {
		if err != nil {
			return fmt.Errorf("agent run: %w", err)
		}
		printEvent(event)
		if event.Kind == agentloop.EventAnswer {
			historyRepo.SaveMessage(cli.Run.Session, llm.Message{Role: llm.RoleAssistant, Content: event.Text})
		}
	}
	return nil
}

func printEvent(event agentloop.Event) {
	switch event.Kind {
	case agentloop.EventContent:
		fmt.Print(event.Text)
	case agentloop.EventAnswer:
		fmt.Println()
		fmt.Println(event.Text)
	case agentloop.EventThought:
		fmt.Fprintf(os.Stderr, "[thought] %s\n", event.Text)
	case agentloop.EventPlan:
		fmt.Fprintf(os.Stderr, "[plan] %v\n", event.PlanSteps)
	case agentloop.EventAction:
		fmt.Fprintf(os.Stderr, "[action] %s %v\n", event.ActionName, event.ActionInput)
	case agentloop.EventObservation:
		fmt.Fprintf(os.Stderr, "[observation] %s\n", event.Text)
	default:
		fmt.Fprintf(os.Stderr, "[%s] %s\n", event.Kind, event.Text)
	}
}

func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	primary, ok := cfg.LLMs["default"]
	if !ok {
		for _, c := range cfg.LLMs {
			primary = c
			break
		}
	}
	return llm.NewOpenAIProvider(primary.APIKey, primary.Host, primary.Model), nil
}

func registerSkillSources(ctx context.Context, registry *skill.Registry, cfg *config.Config) error {
	for _, dir := range cfg.Skills.LocalDirs {
		// No action handlers are bound here: the skill's declared actions
		// are still advertised, and a call to one fails with ToolNotFound.
		// A real deployment constructs the handler map itself and
		// calls localskill.New directly instead of going through config.
		src := localskill.New(dir.Dir, nil)
		if err := registry.RegisterSource(ctx, src); err != nil {
			slog.Warn("conduit: local skill source failed to initialize", "dir", dir.Dir, "error", err)
		}
	}
	for _, m := range cfg.Skills.MCP {
		if !m.Enabled {
			continue
		}
		src := mcpskill.New(mcpskill.Config{
			Name: m.Name, Type: mcpskill.Transport(m.Type), Command: m.Command,
			Args: m.Args, Env: m.Env, URL: m.URL, Enabled: m.Enabled,
		})
		if err := registry.RegisterSource(ctx, src); err != nil {
			slog.Warn("conduit: mcp skill source failed to initialize", "name", m.Name, "error", err)
		}
	}
	return nil
}

func buildLongTermStore(cfg *config.Config) (*longterm.Store, error) {
	if !cfg.Memory.LongTerm.Enabled {
		return longterm.New(), nil
	}

	var index longterm.VectorIndex
	var err error
	switch cfg.Memory.LongTerm.Backend {
	case "qdrant":
		index, err = longterm.NewQdrantBackend(longterm.QdrantConfig{
			Host:   cfg.Memory.LongTerm.Qdrant.Host,
			Port:   cfg.Memory.LongTerm.Qdrant.Port,
			APIKey: cfg.Memory.LongTerm.Qdrant.APIKey,
			UseTLS: cfg.Memory.LongTerm.Qdrant.UseTLS,
		})
	case "pinecone":
		index, err = longterm.NewPineconeBackend(longterm.PineconeConfig{
			APIKey: cfg.Memory.LongTerm.Pinecone.APIKey,
			Host:   cfg.Memory.LongTerm.Pinecone.Host,
		})
	default:
		index, err = longterm.NewChromemBackend(cfg.Memory.LongTerm.Chromem.Path)
	}
	if err != nil {
		return nil, err
	}

	var embedder longterm.Embedder
	if cfg.Memory.LongTerm.Embedder.APIKey != "" {
		embedder = longterm.NewOpenAIEmbedder(cfg.Memory.LongTerm.Embedder.APIKey, llm.EmbeddingModel(cfg.Memory.LongTerm.Embedder.Model))
	}

	return longterm.New(longterm.WithVectorBackend(index, embedder, cfg.Memory.LongTerm.Collection)), nil
}
