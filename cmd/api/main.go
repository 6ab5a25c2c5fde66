package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/coupon-engine/internal/cache"
	"github.com/fairyhunter13/coupon-engine/internal/config"
	"github.com/fairyhunter13/coupon-engine/internal/handler"
	"github.com/fairyhunter13/coupon-engine/internal/repository"
	"github.com/fairyhunter13/coupon-engine/internal/service"
	appvalidator "github.com/fairyhunter13/coupon-engine/internal/validator"
	"github.com/fairyhunter13/coupon-engine/pkg/ctxkey"
	"github.com/fairyhunter13/coupon-engine/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), cfg.DB.MaxRetries)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Cache.Addr,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  time.Duration(cfg.Cache.DialTimeoutS) * time.Second,
		ReadTimeout:  time.Duration(cfg.Cache.ReadTimeoutS) * time.Second,
	})
	couponCache := cache.NewRedisCache(redisClient)

	app := fiber.New(fiber.Config{
		AppName:      "Coupon Lifecycle Engine",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(correlationIDMiddleware)

	validate := appvalidator.New()

	bookRepo := repository.NewBookRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)

	bookService := service.NewBookService(pool, bookRepo, couponRepo,
		cfg.Coupon.BulkInsertBatchSize, cfg.Coupon.MaxUploadCodesPerCall, cfg.Coupon.MaxListLimit)
	couponService := service.NewCouponService(pool, bookRepo, couponRepo, assignmentRepo, couponCache,
		cfg.Coupon.MinLockDurationSeconds, cfg.Coupon.MaxLockDurationSeconds, cfg.Coupon.DefaultLockDurationSeconds,
		cfg.Coupon.RedeemDedupTTLSeconds, cfg.Coupon.RedeemLockTTLSeconds, cfg.Coupon.MaxListLimit)

	bookHandler := handler.NewBookHandler(bookService, validate)
	couponHandler := handler.NewCouponHandler(couponService, validate)
	healthHandler := handler.NewHealthHandler(pool)

	app.Get("/health", healthHandler.Check)

	app.Post("/coupon-books", bookHandler.CreateBook)
	app.Get("/coupon-books", bookHandler.ListBooks)
	app.Get("/coupon-books/:id", bookHandler.GetBook)
	app.Delete("/coupon-books/:id", bookHandler.DeactivateBook)
	app.Get("/coupon-books/:id/coupons", bookHandler.ListCoupons)
	app.Post("/coupon-books/:id/codes", bookHandler.UploadCodes)
	app.Post("/coupon-books/:id/codes/generate", bookHandler.GenerateCodes)

	app.Post("/coupons/assign/random", couponHandler.AssignRandom)
	app.Post("/coupons/assign/:code", couponHandler.AssignSpecific)
	app.Post("/coupons/:code/lock", couponHandler.Lock)
	app.Post("/coupons/:code/unlock", couponHandler.Unlock)
	app.Post("/coupons/:code/redeem", couponHandler.Redeem)
	app.Get("/coupons/my-coupons", couponHandler.GetUserCoupons)
	app.Get("/coupons/:code/status", couponHandler.GetStatus)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	log.Info().Msg("closing database connections...")
	pool.Close()
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("error closing cache connection")
	}
	log.Info().Msg("server stopped")
}

// correlationIDMiddleware carries the id requestid.New() already put in
// X-Request-ID onto the request's context.Context, so the service-layer
// log calls downstream of a handler, and the handlers' own error-path
// log lines, can tag their lines with the same id without the handler
// threading it through every call.
func correlationIDMiddleware(c *fiber.Ctx) error {
	id, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	c.SetUserContext(ctxkey.WithCorrelationID(c.UserContext(), id))
	return c.Next()
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
