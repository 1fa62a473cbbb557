// Package app provides the main Tachikoma application
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Tachikoma/common/crypto"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/archive"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/dispatch"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/intent"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/matrix"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/nlp"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/qna"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/session"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/web"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	MasterKey    []byte

	// IntentPackPath optionally points to a YAML pack that replaces the
	// built-in intent table. Empty uses the defaults.
	IntentPackPath string

	// Matrix is the optional Matrix channel. Enabled when Homeserver is set.
	Matrix matrix.Config

	// HTTPAddr is the TCP address for the optional HTTP server (health,
	// status, webchat), e.g. ":8080". When empty the server is disabled.
	HTTPAddr string

	// NLPAPIKey authorizes the intent classifier. Required.
	NLPAPIKey string
	// NLPModel is the chat model used for intent classification.
	// Defaults to "gpt-4o-mini" (cost-efficient) when empty.
	NLPModel string
	// NLPEndpoint is the base URL of the LLM API endpoint, e.g.:
	//   https://api.openai.com/v1  (default)
	//   http://localhost:11434/v1  (Ollama)
	// Empty defaults to the public OpenAI endpoint.
	NLPEndpoint string
	// NLPTimeout bounds one classification call. Defaults to 30s when zero.
	NLPTimeout time.Duration

	// QnAEndpoint is the knowledge-base query URL. Required.
	QnAEndpoint string
	// QnAAPIKey is the optional bearer token for the knowledge base.
	QnAAPIKey string
	// QnATimeout bounds one answer lookup. Defaults to 30s when zero.
	QnATimeout time.Duration
}

// App wires the dispatcher and its channels together.
type App struct {
	config     *Config
	store      *store.Store
	tracker    *session.Tracker
	dispatcher *dispatch.Dispatcher
	matrix     *matrix.Client
	webServer  *web.Server
}

// New creates a new Tachikoma application
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sealer, err := crypto.NewSealer(config.MasterKey)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize sealer: %w", err)
	}

	table := intent.Default()
	if config.IntentPackPath != "" {
		data, err := os.ReadFile(config.IntentPackPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to read intent pack: %w", err)
		}
		table, err = intent.LoadPack(data)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to load intent pack: %w", err)
		}
		slog.Info("intent pack loaded", "path", config.IntentPackPath, "labels", len(table.Labels()))
	}

	provider := nlp.New(nlp.Config{
		APIKey:  config.NLPAPIKey,
		BaseURL: config.NLPEndpoint,
		Model:   config.NLPModel,
		Timeout: config.NLPTimeout,
		Labels:  table.Labels(),
	})

	answers := qna.NewClient(qna.Config{
		Endpoint: config.QnAEndpoint,
		APIKey:   config.QnAAPIKey,
		Timeout:  config.QnATimeout,
	})

	tracker := session.NewTracker()
	recorder := archive.NewRecorder(table, tracker, st, sealer, nil)
	merger := archive.NewMerger(st, sealer, nil)
	presence := archive.NewPresence(st, nil)

	dispatcher := dispatch.NewDispatcher(
		dispatch.NewRouter(provider),
		answers,
		recorder,
		tracker,
		merger,
		presence,
		nil,
	)

	a := &App{
		config:     config,
		store:      st,
		tracker:    tracker,
		dispatcher: dispatcher,
	}

	// Matrix channel is optional; webchat-only deployments leave it unset.
	if config.Matrix.Homeserver != "" {
		matrixCfg := config.Matrix
		matrixCfg.DB = st.DB()
		slog.Info("connecting to Matrix", "homeserver", matrixCfg.Homeserver)
		mc, err := matrix.New(&matrixCfg, dispatcher, nil)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to initialize Matrix client: %w", err)
		}
		a.matrix = mc
	}

	if config.HTTPAddr != "" {
		webchat := web.NewWebchat(dispatcher, nil)
		a.webServer = web.NewServer(config.HTTPAddr, st, webchat, store.Summaries, store.Interactions, nil)
	}

	if a.matrix == nil && a.webServer == nil {
		st.Close()
		return nil, fmt.Errorf("no channel configured: set a Matrix homeserver or an HTTP address")
	}

	return a, nil
}

// Run starts the application and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.webServer != nil {
		if err := a.webServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
	}

	if a.matrix != nil {
		slog.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}

	slog.Info("Tachikoma is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the application
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}

	if a.webServer != nil {
		slog.Info("stopping web server")
		a.webServer.Stop()
	}

	slog.Info("closing database")
	a.store.Close()
}
