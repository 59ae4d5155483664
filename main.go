package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"party-matchmaking/config"
	"party-matchmaking/handlers"
	"party-matchmaking/middleware"
	"party-matchmaking/models"
	"party-matchmaking/services"
	"party-matchmaking/utils"
	"party-matchmaking/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddress).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	clock := clockwork.NewRealClock()
	httpClient := utils.NewHTTPClient(cfg.UpstreamTimeout)

	notifier := services.NewRedisNotifier(rdb, clock)
	presence := services.NewRedisPresence(rdb, services.DefaultPresenceTTL)
	friends := services.NewGormFriendGraph(db)

	partyService := services.NewPartyService(db, friends, presence, notifier, clock)
	partyService.LeaderSuccession = cfg.LeaderSuccession

	matchmakingService := services.NewMatchmakingService(
		db,
		services.NewEnforcementClient(cfg.EnforcementURL, cfg.ServiceToken, httpClient),
		services.NewMatchClient(cfg.MatchServiceURL, cfg.ServiceToken, httpClient),
		notifier,
		clock,
	)
	matchmakingService.TicketTTL = cfg.TicketTTL
	matchmakingService.PairingAttempts = cfg.PairingAttempts

	if r2 := cfg.R2(); r2.Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, r2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		matchmakingService.Archiver = archiver
		log.Info().Str("bucket", r2.Bucket).Msg("match roster archiving enabled")
	}

	lifecycleService := services.NewLifecycleService(db, presence, notifier, clock)
	stream := services.NewPartyEventStream(notifier, presence)
	authClient := services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.ServiceToken, httpClient)

	sched, err := matchmakingService.StartExpirySweeper(ctx, cfg.SweepInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start expiry sweeper")
	}
	defer func() { _ = sched.Shutdown() }()

	if cfg.SyncServiceURL != "" {
		workers.NewFriendSyncWorker(db, clock, cfg.SyncServiceURL, cfg.ServiceToken, cfg.FriendSyncInterval, httpClient).Start(ctx)
	} else {
		log.Warn().Msg("SYNC_SERVICE_URL not set, friend mirror will not be refreshed")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		// SSE streams stay open
		IdleTimeout: 2 * time.Minute,
	})

	// 🔐 GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))

	allowedOrigins := strings.Join(cfg.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupStreamRoutes(app, authClient, stream)
	handlers.SetupPartyRoutes(app, partyService, matchmakingService)
	handlers.SetupInternalRoutes(app, lifecycleService)

	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("addr", addr).Msg("✅ Server running")
	log.Info().Dur("interval", cfg.SweepInterval).Msg("✅ Ticket expiry sweeper running")
	log.Info().Str("origins", allowedOrigins).Msg("✅ CORS configured")

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
