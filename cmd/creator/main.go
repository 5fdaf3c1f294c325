// creator - interactive AI-assisted character creation client
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/LettuceAI/creation-engine/internal/backend"
	"github.com/LettuceAI/creation-engine/internal/config"
	"github.com/LettuceAI/creation-engine/internal/creation"
	"github.com/LettuceAI/creation-engine/internal/domain"
	"github.com/LettuceAI/creation-engine/internal/library"
	"github.com/LettuceAI/creation-engine/internal/stream"
	"github.com/LettuceAI/creation-engine/internal/transcript"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := library.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize library database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close library", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Library database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Library database connected", "path", cfg.DBPath)

	transcripts, err := transcript.NewFileLogger(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}

	dispatcher := stream.NewDispatcher(cfg.EventsURL, logger)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	if err := dispatcher.Open(dialCtx); err != nil {
		dialCancel()
		slog.Error("Failed to open event channel", "error", err)
		os.Exit(1)
	}
	dialCancel()
	defer dispatcher.Close()

	client := backend.NewHTTPClient(cfg.BackendURL, logger)
	engine := creation.NewEngine(client, dispatcher, creation.Options{
		Library:     repo,
		Transcripts: transcripts,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer engine.Close(context.Background())

	if err := run(ctx, engine, repo); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Session ended with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, engine *creation.Engine, repo library.Repository) error {
	fmt.Println("What would you like to create?")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return scanner.Err()
	}
	goal := strings.TrimSpace(scanner.Text())

	session, err := engine.Start(ctx, goal)
	if err != nil {
		return err
	}
	printTimeline(session.Messages)
	fmt.Println(`(type a message, or /regen, /complete, /library, /cancel, /quit)`)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			return nil
		case "/cancel":
			if err := engine.Cancel(ctx); err != nil {
				fmt.Println("cancel:", err)
			}
			fmt.Println("Session cancelled.")
			return nil
		case "/complete":
			draft, err := engine.Complete(ctx)
			if err != nil {
				fmt.Println("complete:", err)
				continue
			}
			fmt.Printf("Saved %q to your library.\n", draft.Name)
			return nil
		case "/library":
			entities, err := repo.ListEntities(ctx, 20)
			if err != nil {
				fmt.Println("library:", err)
				continue
			}
			if len(entities) == 0 {
				fmt.Println("Your library is empty.")
				continue
			}
			for _, entity := range entities {
				fmt.Printf("  %s  (%s)\n", entity.Name, entity.UpdatedAt.Format("2006-01-02"))
			}
		case "/regen":
			session, err := engine.Regenerate(ctx)
			if err != nil {
				fmt.Println("regenerate:", err)
				continue
			}
			printTimeline(session.Messages)
		default:
			session, err := engine.Send(ctx, line, nil, nil)
			if err != nil {
				var sendErr *creation.SendFailedError
				if errors.As(err, &sendErr) {
					fmt.Println("send failed, your message was kept:", sendErr.Text)
					continue
				}
				fmt.Println("send:", err)
				continue
			}
			printTimeline(session.Messages)
		}
	}
	return scanner.Err()
}

func printTimeline(messages []domain.Message) {
	for _, msg := range messages {
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			continue
		}
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Printf("  * %s\n", creation.ToolLabel(call.Name))
		}
	}
}
