package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shoplist-sync-server/internal/config"
	"shoplist-sync-server/internal/handler"
	"shoplist-sync-server/internal/middleware"
	"shoplist-sync-server/internal/notify"
	"shoplist-sync-server/internal/repository"
	"shoplist-sync-server/internal/service"
	"shoplist-sync-server/internal/websocket"
	"shoplist-sync-server/pkg/jwt"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a signed token for the given user id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *issueToken != "" {
		token, err := jwt.GenerateToken(*issueToken, cfg.JWT.Expiration, cfg.JWT.Secret)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()

	dialect, err := repository.ParseDialect(cfg.Database.Driver)
	if err != nil {
		log.Fatalf("Invalid database driver: %v", err)
	}
	db, err := openDatabase(ctx, dialect, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := repository.ApplyMigrations(ctx, db, dialect, repository.Migrations(cfg.Database.MigrationsDir)); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	listRepo := repository.NewListRepository(db, dialect)
	accessRepo, err := openRoster(ctx, cfg.Roster, db, dialect)
	if err != nil {
		log.Fatalf("Failed to open roster: %v", err)
	}

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetMessageHandler(handler.NewLiveMessageHandler())
	go wsManager.Run()
	defer wsManager.Stop()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	hubNotifier := notify.NewHubNotifier(accessRepo, wsManager)
	var notifier service.ChangeNotifier = hubNotifier
	if cfg.Redis.URL != "" {
		redisClient, err := notify.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		redisNotifier := notify.NewRedisNotifier(redisClient, cfg.Redis.LiveChannel, hubNotifier)
		go func() {
			if err := redisNotifier.Run(runCtx, nil); err != nil && runCtx.Err() == nil {
				log.Printf("[Live] redis relay stopped: %v", err)
			}
		}()
		notifier = redisNotifier
		log.Printf("Fanning out list changes through Redis channel %s", cfg.Redis.LiveChannel)
	}

	batchService := service.NewBatchService(listRepo, accessRepo, notifier, cfg.Batch.MaxOperations)
	listService := service.NewListService(listRepo, accessRepo, batchService)

	listHandler := handler.NewListHandler(listService)
	userHandler := handler.NewUserHandler(accessRepo)
	liveHandler := handler.NewLiveHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()
	registerListRoutes(api, listHandler, userHandler, cfg.JWT.Secret)
	api.HandleFunc("/live", liveHandler.HandleConnection).Methods("GET")

	r.HandleFunc("/live", liveHandler.HandleConnection).Methods("GET")
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")
	registerListRoutes(r, listHandler, userHandler, cfg.JWT.Secret)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Shopping List Sync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Lists stored in %s, roster backend %s", dialect, cfg.Roster.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

// registerListRoutes mounts the list endpoints behind JWT auth on router.
func registerListRoutes(router *mux.Router, h *handler.ListHandler, users *handler.UserHandler, secret string) {
	protected := router.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(secret))

	protected.HandleFunc("/lists", h.GetLists).Methods("GET", "OPTIONS")
	protected.HandleFunc("/lists", h.AddItems).Methods("POST", "OPTIONS")
	protected.HandleFunc("/lists", h.Patch).Methods("PATCH", "OPTIONS")
	protected.HandleFunc("/lists", h.UpdateQuantity).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/lists", h.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/lists/batch", h.Batch).Methods("POST", "OPTIONS")
	protected.HandleFunc("/lists/label", h.RenameList).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/me", users.GetMe).Methods("GET", "OPTIONS")
}

func openDatabase(ctx context.Context, dialect repository.Dialect, cfg config.DatabaseConfig) (*sql.DB, error) {
	if dialect == repository.Postgres {
		return repository.OpenPostgres(ctx, cfg.URL)
	}
	return repository.OpenSQLite(ctx, cfg.SQLitePath)
}

func openRoster(ctx context.Context, cfg config.RosterConfig, db *sql.DB, dialect repository.Dialect) (repository.AccessRepository, error) {
	if cfg.Backend != "couchdb" {
		return repository.NewSQLAccessRepository(db, dialect), nil
	}

	client, err := kivik.New("couch", cfg.CouchURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.CouchName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.CouchName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		log.Printf("Created roster database: %s", cfg.CouchName)
	}

	log.Printf("Connected to CouchDB roster at %s:%s", cfg.CouchHost, cfg.CouchPort)
	return repository.NewCouchDBAccessRepository(client, cfg.CouchName), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"shoplist-sync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Shopping List Sync Server API","version":"1.0.0","endpoints":{"/api/v1/lists":"GET,POST,PATCH,PUT,DELETE (protected)","/api/v1/lists/batch":"POST (protected)","/api/v1/lists/label":"PUT (protected)","/live":"GET (websocket)"}}`))
}
