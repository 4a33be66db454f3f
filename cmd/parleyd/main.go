package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/chat"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/contextmgr"
	"github.com/parley-ai/parley/internal/embed"
	"github.com/parley-ai/parley/internal/eventbus"
	"github.com/parley-ai/parley/internal/indexer"
	"github.com/parley-ai/parley/internal/state"
	"github.com/parley-ai/parley/internal/vindex"
)

func main() {
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := state.NewStore(db)
	bus := eventbus.NewBus(db)
	queue := indexer.NewQueue(db)

	var generator embed.Generator
	var index *vindex.Index
	if cfg.Embedding.APIKey != "" {
		client, err := embed.NewClient(embed.Config{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		})
		if err != nil {
			log.Printf("embeddings disabled: %v", err)
		} else {
			generator = client
			index = vindex.New(db, generator)
		}
	}

	manager := contextmgr.NewManager(store, index, queue, bus, generator, contextmgr.Limits{
		History:  cfg.HistoryLimit,
		Recency:  cfg.RecencyLimit,
		Semantic: cfg.SemanticLimit,
	}, logger)

	var chatService *chat.Service
	if cfg.Chat.APIKey != "" {
		responder, err := chat.NewClient(chat.Config{
			BaseURL: cfg.Chat.BaseURL,
			APIKey:  cfg.Chat.APIKey,
			Model:   cfg.Chat.Model,
		})
		if err != nil {
			log.Printf("chat disabled: %v", err)
		} else {
			chatService = chat.NewService(manager, responder, logger)
		}
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())

	if index != nil {
		worker := &indexer.Worker{
			Queue:    queue,
			Index:    index,
			Bus:      bus,
			Log:      logger,
			Interval: time.Duration(cfg.IndexInterval),
		}
		go worker.Run(serverCtx)
	}

	apiServer := &api.Server{
		Store:     store,
		Manager:   manager,
		Chat:      chatService,
		Queue:     queue,
		Bus:       bus,
		StartedAt: time.Now(),
		Info: api.DiagnosticsInfo{
			Version:      version,
			DBPath:       cfg.DBPath,
			ChatEnabled:  chatService != nil,
			IndexEnabled: index != nil,
		},
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	httpServer := &http.Server{
		Handler:           loggingMiddleware(apiServer.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}

	go func() {
		log.Printf("parleyd listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	serverCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	_ = httpServer.Close()
}

var version = "dev"

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
