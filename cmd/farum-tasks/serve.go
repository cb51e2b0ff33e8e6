package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PabloGalante/farum-tasks/internal/adapters/googleauth"
	"github.com/PabloGalante/farum-tasks/internal/adapters/googletasks"
	httpadapter "github.com/PabloGalante/farum-tasks/internal/adapters/http"
	"github.com/PabloGalante/farum-tasks/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/farum-tasks/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/farum-tasks/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/farum-tasks/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/farum-tasks/internal/app/conversation"
	"github.com/PabloGalante/farum-tasks/internal/app/extract"
	"github.com/PabloGalante/farum-tasks/internal/config"
	"github.com/PabloGalante/farum-tasks/internal/domain"
	"github.com/PabloGalante/farum-tasks/internal/observability"
)

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

type stores struct {
	tasks    domain.TaskStore
	chatLog  domain.ChatLogStore
	projects domain.ProjectStore
	closers  []func() error
}

func (s *stores) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			observability.Logger().Warn("closing store", zap.Error(err))
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := observability.Init(cfg.Log.Debug); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer observability.Sync()
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	completion, err := newCompletionClient(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pool := conversation.NewPool(conversation.Deps{
		LLM:               completion,
		Tasks:             st.tasks,
		ChatLog:           st.chatLog,
		Projects:          st.projects,
		Parser:            extract.New(cfg.Engine.Parser),
		MaxSuggestedTasks: cfg.Engine.MaxSuggestedTasks,
		BatchConcurrency:  cfg.Engine.BatchConcurrency,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpadapter.NewServer(pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("farum-tasks listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("tasks", cfg.TaskBackend()),
			zap.String("llm", cfg.LLM.Provider),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newCompletionClient(ctx context.Context, cfg *config.Config) (domain.CompletionClient, error) {
	if cfg.LLM.Provider == config.ProviderMock {
		observability.Logger().Info("using mock completion client")
		return llm.NewMockLLM(), nil
	}
	client, err := llm.NewGeminiClient(ctx, llm.Config{
		APIKey:      cfg.LLM.APIKey,
		Project:     cfg.LLM.GCPProject,
		Location:    cfg.LLM.GCPLocation,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing Gemini client: %w", err)
	}
	return client, nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	switch cfg.Storage.Backend {
	case config.BackendFirestore:
		fs, err := firestorestore.NewStore(ctx, cfg.Storage.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("error initializing Firestore store: %w", err)
		}
		st.tasks, st.chatLog, st.projects = fs, fs, fs
		st.closers = append(st.closers, fs.Close)
	case config.BackendSQLite:
		db, err := sqlitestore.NewStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		st.tasks, st.chatLog, st.projects = db, db, db
		st.closers = append(st.closers, db.Close)
	default:
		st.tasks = memstore.NewTaskStore()
		st.chatLog = memstore.NewChatLogStore()
		st.projects = memstore.NewProjectStore()
	}

	if cfg.Storage.Tasks == config.BackendGoogleTasks {
		oauthCfg, err := googleauth.Config(cfg.Google.CredentialsFile, cfg.Google.AuthPort, googletasks.Scopes...)
		if err != nil {
			st.Close()
			return nil, err
		}
		client, err := googleauth.Client(ctx, oauthCfg, cfg.Google.TokenFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		gt, err := googletasks.NewStore(ctx, client)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.tasks = gt
	}

	return st, nil
}
