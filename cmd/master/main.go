package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"story-lab/ai"
	"story-lab/contract"
	"story-lab/domain"
	"story-lab/gateway"
	"story-lab/internal"
	"story-lab/moderation"
	"story-lab/mood"
	"story-lab/observability"
	"story-lab/repositories"
	"story-lab/runtime"
	"story-lab/runtime/workers"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Exit codes for the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const serviceName = "story-lab"

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Master terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a server failure.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	rules, err := config.Rules()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(ctx, config, logger))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	roomRepository := repositories.NewRoomRepository(db, logger)
	if err := seedRooms(ctx, logger, roomRepository, config.SeedRooms); err != nil {
		return exitRuntime, fmt.Errorf("seeding rooms failed: %w", err)
	}

	// 3. Collaborators
	censored, err := runtime.LoadEmbeddedCensored()
	if err != nil {
		return exitRuntime, fmt.Errorf("loading censored words failed: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("moderator init failed: %w", err)
	}
	logger.Info("Moderation ready", "languages", censored.Languages, "words", len(censored.Words))

	httpClient := &http.Client{}
	var engine contract.ContinuationEngine = ai.LocalEngine{}
	if config.EngineURL != "" {
		engine = ai.NewChatEngine(logger, httpClient, config.EngineURL, config.EngineAPIKey, config.EngineModel)
	} else {
		logger.Warn("ENGINE_URL is empty, falling back to the local storyteller")
	}
	// A nil lookup also skips the mood classification call
	var moodLookup contract.MoodLookup
	if config.MoodLookupURL != "" {
		moodLookup = mood.NewHTTPLookup(logger, httpClient, config.MoodLookupURL)
	}

	// 4. Coordinator & Supervision
	monitoring := observability.NewMonitoringManager()
	events := make(chan domain.Envelope, config.BufferSize)
	commands := make(chan domain.Command, config.BufferSize)
	registry := runtime.NewRegistry(logger, roomRepository, rules)
	coordinator := runtime.NewCoordinator(
		logger, registry, engine, moodLookup, moderator, monitoring, events, commands,
		runtime.CoordinatorConfig{
			ContinuationTimeout: config.ContinuationTimeout,
			MoodTimeout:         config.MoodTimeout,
			PublishTimeout:      config.PublishTimeout,
		},
	)
	hub := gateway.NewHub(logger)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewEventFanout(logger, events, config.SinkTimeout, hub),
		workers.NewStoreSync(logger, roomRepository, commands, config.StoreTimeout, monitoring),
		workers.NewHeartbeatWorker(logger, config.HeartbeatInterval, registry, hub, monitoring),
		workers.NewChannelCapacityWorker(logger, []workers.NamedChannel{
			{Name: "events", Channel: events},
			{Name: "commands", Channel: commands},
		}, config.MetricInterval, config.LowCapacityThreshold),
	)
	// Workers outlive the signal: they flush what the disconnects produce
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(workersCtx)
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		debugServer := internal.StartDebugServer(logger, db, config.DebugPort, "/inspect", internal.RoomMapper, func() map[string]any {
			stats := monitoring.GetLatest()
			return map[string]any{
				"ActiveRooms":   registry.ActiveRooms(),
				"Connections":   hub.ConnectionCount(),
				"RoundsClosed":  stats.RoundsClosed,
				"EventsDropped": stats.EventsDropped,
			}
		})
		defer func() { _ = debugServer.Close() }()
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
	}

	errChan := make(chan error, 2)

	// 5. Websocket gateway
	server := gateway.NewServer(logger, hub, coordinator, gateway.Config{
		Secret:               []byte(config.JWTSecret),
		ConnectionBufferSize: config.ConnectionBufferSize,
		RateLimit:            config.RateLimit,
		RateBurst:            config.RateBurst,
	})
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting websocket gateway", "address", address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// 6. gRPC health
	healthAddress := fmt.Sprintf("%s:%d", config.Host, config.HealthPort)
	listener, err := net.Listen("tcp", healthAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", healthAddress, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(logger)))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go func() {
		logger.Info("Starting gRPC health server", "address", healthAddress)
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	code := exitOK
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errChan:
		code = exitRuntime
	}

	// 8. Graceful Shutdown
	logger.Info("Shutting down gracefully...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ContinuationTimeout+config.StoreTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown incomplete", "error", err)
	}
	hub.CloseAll("server shutting down")
	server.Wait()
	coordinator.Wait()
	grpcServer.GracefulStop()
	stopWorkers()
	<-supervisorDone
	logger.Info("Program stopped cleanly", "stats", monitoring.GetLatest())

	return code, runErr
}

func buildBadgerOpts(ctx context.Context, config internal.Config, logger *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.INFO)
}

// seedRooms makes sure at least n rooms exist and none looks busy:
// no room is active right after boot.
func seedRooms(ctx context.Context, logger *slog.Logger, repository *repositories.RoomRepository, n int) error {
	records, err := repository.List(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		for _, identity := range record.Participants {
			if err := repository.RemoveParticipant(ctx, record.ID, identity); err != nil {
				return err
			}
		}
		if record.Status != domain.StatusLobby {
			if err := repository.SetStatus(ctx, record.ID, domain.StatusLobby); err != nil {
				return err
			}
		}
	}
	for i := len(records); i < n; i++ {
		record, err := repository.Create(ctx)
		if err != nil {
			return err
		}
		logger.Info("Room created", "room_id", record.ID, "code", record.Code)
	}
	return nil
}
