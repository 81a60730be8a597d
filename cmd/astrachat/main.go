package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"astrachat/internal/conn"
	"astrachat/internal/domain"
	"astrachat/internal/engine"
	"astrachat/internal/infra/config"
	"astrachat/internal/infra/logger"
	"astrachat/internal/infra/tracer"
	"astrachat/internal/persist"
	"astrachat/internal/store"
	"astrachat/internal/tui/chat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// configPath returns the config file location from --config, defaulting
// to ./config.yaml.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 3. Tracing
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// 4. Token counter
	var counter store.TokenCounter
	if cfg.Tokenizer.Mode == "tiktoken" {
		tk, err := store.NewTiktokenCounter(cfg.Tokenizer.Encoding)
		if err != nil {
			log.Warn("tiktoken unavailable, using heuristic counter", "error", err)
		} else {
			counter = tk
		}
	}

	// 5. State store + persistence
	st := store.New(counter)

	snapStore, err := persist.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer snapStore.Close()

	if snap, err := snapStore.Load(); err != nil {
		log.Warn("snapshot load failed, starting empty", "error", err)
	} else {
		st.Restore(*snap)
	}

	// 6. TUI bridge, engine, connection
	bridge := &chat.Bridge{}

	var limiter *rate.Limiter
	if cfg.Server.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RatePerSec), cfg.Server.RateBurst)
	}
	eng := engine.New(engine.Options{
		Store:    st,
		Notifier: bridge,
		Logger:   log,
		Limiter:  limiter,
	})

	st.OnChange(func(snap domain.Snapshot) {
		if err := snapStore.Save(snap); err != nil {
			log.Error("snapshot save failed", "error", err)
		}
		bridge.OnState(snap, st.Counters(), eng.Busy())
	})

	manager := conn.New(cfg.Server, eng, bridge, log)
	eng.SetSender(manager)

	// 7. TUI. The program attaches to the bridge before the connection
	// manager starts so no notification can race the wiring.
	model := chat.New(chat.Options{
		Controller: eng,
		Logger:     log,
		Streaming:  cfg.Chat.Streaming,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge.Attach(program)

	go func() {
		if err := manager.Run(ctx); err != nil {
			log.Error("connection terminated", "error", err)
			bridge.Notify(domain.NotifyError, err.Error())
		}
	}()
	defer manager.Close()

	log.Info("starting", "server", cfg.Server.URL, "storage", cfg.Storage.Path)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
