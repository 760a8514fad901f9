package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/enrollment-billing-api/api/swagger"
	"github.com/noah-isme/enrollment-billing-api/internal/handler"
	"github.com/noah-isme/enrollment-billing-api/internal/middleware"
	"github.com/noah-isme/enrollment-billing-api/internal/repository"
	"github.com/noah-isme/enrollment-billing-api/internal/service"
	"github.com/noah-isme/enrollment-billing-api/pkg/cache"
	"github.com/noah-isme/enrollment-billing-api/pkg/config"
	"github.com/noah-isme/enrollment-billing-api/pkg/database"
	"github.com/noah-isme/enrollment-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/enrollment-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/enrollment-billing-api/pkg/middleware/requestid"
)

// @title Enrollment & Billing API
// @version 1.0.0
// @description Term enrollment, seat ledger and tuition billing.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		}
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	offeringRepo := repository.NewOfferingRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	var (
		cacheRepo service.CacheRepository
		redisRepo *repository.CacheRepository
	)
	if redisClient != nil {
		redisRepo = repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.InvoiceTTL, logr, cfg.Cache.Enabled && redisClient != nil)

	catalogSvc := service.NewCatalogService(subjectRepo, cacheSvc, cfg.Cache.CatalogTTL)
	ledger := service.NewSeatLedger(offeringRepo, metrics, logr)

	tuitionPolicy := service.TuitionPolicy{
		PerUnitRate:                cfg.Tuition.PerUnitRate,
		MiscFee:                    cfg.Tuition.MiscFee,
		LabFee:                     cfg.Tuition.LabFee,
		FullPaymentDiscountPercent: cfg.Tuition.FullPaymentDiscountPercent,
		InstallmentCount:           cfg.Tuition.InstallmentCount,
		FullPaymentDueDays:         cfg.Tuition.FullPaymentDueDays,
	}
	unitPolicy := service.UnitLoadPolicy{
		RegularMinUnits: cfg.Enrollment.RegularMinUnits,
		RegularMaxUnits: cfg.Enrollment.RegularMaxUnits,
		SummerMaxUnits:  cfg.Enrollment.SummerMaxUnits,
	}

	tuitionSvc := service.NewTuitionService(invoiceRepo, enrollmentRepo, db, tuitionPolicy, cacheSvc, metrics, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, catalogSvc, ledger, unitPolicy, tuitionSvc, db, metrics, validate, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	dependencies := map[string]handler.Pinger{"postgres": db}
	if redisRepo != nil {
		dependencies["redis"] = handler.PingerFunc(redisRepo.Ping)
	}
	metricsHandler := handler.NewMetricsHandler(metrics, dependencies)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Tokens:      tokenSvc,
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Invoices:    handler.NewInvoiceHandler(tuitionSvc),
		Offerings:   handler.NewOfferingHandler(ledger),
		Logger:      logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "cache", cacheSvc.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}
