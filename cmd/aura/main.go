package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"aura/internal/config"
	"aura/internal/feed"
	"aura/internal/orchestrator"
	"aura/internal/provider"
	"aura/internal/session"
	"aura/internal/store"
	"aura/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "aura.toml", "Path to TOML config file")
		model      = flag.String("model", "", "Anthropic model id")
		dbPath     = flag.String("db", "", "Path to SQLite database")
		sessionID  = flag.String("session-id", "", "Resume existing session by ID")
		userID     = flag.String("user-id", "", "Stable caller identity")
		listen     = flag.String("listen", "", "Address for the live snapshot feed (empty disables)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file.
	if *model != "" {
		cfg.Model = *model
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *userID != "" {
		cfg.UserID = *userID
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *debug {
		cfg.Debug = true
	}
	cfg.SessionID = *sessionID
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	st := store.New(db, logger)
	sessions := session.NewStore(logger)
	sync := session.NewSynchronizer(sessions, st, cfg.UserID, 0, logger)

	// Prime the cache before the first prompt, then keep reconciling
	// in the background.
	if err := sync.SyncOnce(ctx); err != nil {
		logger.Warn("initial session sync failed", "error", err)
	}
	go sync.Run(ctx)

	var hub *feed.Hub
	if cfg.Listen != "" {
		hub = feed.NewHub(logger)
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/feed", hub)
		go func() {
			if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
				logger.Error("feed server failed", "error", err)
			}
		}()
		fmt.Printf("Live feed on ws://%s/feed\n", cfg.Listen)
	}

	client := provider.NewClient(cfg.APIKey, logger, tracer, meter)
	orch := orchestrator.New(cfg, st, client, sessions, hub, logger, tracer, meter)

	if cfg.SessionID != "" {
		if err := sync.SwitchSession(cfg.SessionID); err != nil {
			logger.Warn("failed to resume session, creating new one", "session_id", cfg.SessionID, "error", err)
		}
	}
	if sessions.ActiveID() == "" {
		id, err := sync.CreateSession(ctx, "")
		if err != nil {
			logger.Warn("session created locally only", "session_id", id, "error", err)
		}
		if _, err := orch.SendWelcomeMessage(ctx, id); err != nil {
			logger.Warn("failed to send welcome message", "error", err)
		}
	}

	return repl(ctx, cfg, orch, sync, sessions)
}

func repl(ctx context.Context, cfg config.Config, orch *orchestrator.Orchestrator, sync *session.Synchronizer, sessions *session.Store) error {
	active, _ := sessions.Active()
	fmt.Println("=== AURA Orchestrator ===")
	fmt.Printf("Session: %s (%s)\n", active.Title, active.SessionID)
	fmt.Printf("Model: %s\n", cfg.Model)
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(ctx, input, orch, sync, sessions)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}

		sessionID := sessions.ActiveID()
		if sessionID == "" {
			id, err := sync.CreateSession(ctx, "")
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			sessionID = id
		}

		resp, err := orch.SendMessage(ctx, orchestrator.SendRequest{
			Message:   input,
			SessionID: sessionID,
			UserID:    cfg.UserID,
		})
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fmt.Printf("Aura: %s\n", resp.Response)
		fmt.Printf("      [%d↑ %d↓ $%.4f]\n\n", resp.InputTokens, resp.OutputTokens, resp.EstimatedCost)
	}

	fmt.Println("Goodbye!")
	return nil
}

func handleCommand(ctx context.Context, cmd string, orch *orchestrator.Orchestrator, sync *session.Synchronizer, sessions *session.Store) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		title := strings.Join(parts[1:], " ")
		id, err := sync.CreateSession(ctx, title)
		if err != nil {
			return false, err
		}
		fmt.Println("Started new session:", id)
		if _, err := orch.SendWelcomeMessage(ctx, id); err != nil {
			return false, err
		}
		return false, nil

	case "/sessions":
		active := sessions.ActiveID()
		for i, sess := range sessions.List() {
			marker := " "
			if sess.SessionID == active {
				marker = "*"
			}
			fmt.Printf("%s %d. %s (%s) — %d msgs, %d tokens, $%.4f\n",
				marker, i+1, sess.Title, sess.SessionID, sess.MessageCount, sess.TotalTokens, sess.TotalCost)
		}
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <session-id>")
		}
		if err := sync.SwitchSession(parts[1]); err != nil {
			return false, err
		}
		fmt.Println("Switched to session:", parts[1])
		return false, nil

	case "/rename":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /rename <session-id> <title>")
		}
		return false, sync.RenameSession(ctx, parts[1], strings.Join(parts[2:], " "))

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <session-id>")
		}
		// Minimum one session: the last remaining session cannot be
		// deleted from here.
		if sessions.Len() <= 1 {
			return false, fmt.Errorf("cannot delete the last remaining session")
		}
		return false, sync.DeleteSession(ctx, parts[1])

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit               - Exit")
		fmt.Println("  /new-session [title]       - Start a new chat session")
		fmt.Println("  /sessions                  - List sessions")
		fmt.Println("  /switch <session-id>       - Switch active session")
		fmt.Println("  /rename <session-id> <t>   - Rename a session")
		fmt.Println("  /delete <session-id>       - Delete a session")
		fmt.Println("  /help                      - Show this help message")
		return false, nil

	default:
		return false, nil
	}
}
