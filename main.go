package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"product-importer/config"
	"product-importer/controllers"
	"product-importer/database"
	apperrors "product-importer/errors"
	"product-importer/logger"
	"product-importer/middleware"
	"product-importer/models"
	aws_pkg "product-importer/pkg/aws"
	"product-importer/repository"
	"product-importer/routes"
	"product-importer/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "product-importer"

func main() {
	log := logger.Initialize(os.Getenv("APP_ENV"))
	defer func() { _ = logger.Log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 1. AWS ---

	var awsCfg *sdkaws.Config
	if cfg.NeedsAWS() {
		c, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatal("Failed to load AWS config", zap.Error(err))
		}
		awsCfg = &c
	}

	if cfg.CloudWatchEnabled && awsCfg != nil {
		cwWriter, err := aws_pkg.NewCloudWatchLogsClient(ctx, *awsCfg, serviceName)
		if err != nil {
			log.Warn("CloudWatch Logs disabled", zap.Error(err))
		} else {
			log = logger.InitializeWithWriter(cfg.Env, cwWriter)
		}
	}
	log.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("queue", cfg.QueueBackend),
		zap.Int("workers", cfg.ImportWorkers),
	)

	// --- 2. Stores ---

	db, err := database.ConnectPostgres(log, cfg.DatabaseURL, &models.Product{})
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.Close(db)

	pool, err := database.OpenPool(ctx, log, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to open pgx pool", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	// --- 3. Import pipeline ---

	var s3Store *aws_pkg.S3Store
	if awsCfg != nil {
		s3Store = aws_pkg.NewS3Store(*awsCfg)
	}

	var uploads services.UploadStore
	if cfg.UploadBucket != "" {
		uploads = services.NewS3UploadStore(s3Store, cfg.UploadBucket, "")
	} else {
		local, err := services.NewLocalUploadStore(cfg.StorageDir)
		if err != nil {
			log.Fatal("Failed to prepare storage dir", zap.Error(err))
		}
		uploads = local
	}

	source := services.NewFileSource(nil)
	if s3Store != nil {
		source = services.NewFileSource(s3Store)
	}

	var progress repository.ProgressStore = repository.NewRedisProgressStore(rdb)
	if cfg.ProgressBackend == config.ProgressDynamoDB {
		progress = repository.NewDynamoProgressStore(dynamodb.NewFromConfig(*awsCfg), cfg.ProgressTable)
	}
	opts := []services.ImporterOption{services.WithLogger(log)}

	var metrics *aws_pkg.MetricsClient
	if awsCfg != nil {
		metrics = aws_pkg.NewMetricsClient(*awsCfg)
		if metrics.IsEnabled() {
			opts = append(opts, services.WithMetrics(metrics))
		}
		if cfg.EventsTopicARN != "" {
			opts = append(opts, services.WithEvents(aws_pkg.NewSNSClient(*awsCfg, cfg.EventsTopicARN)))
		}
	}

	importer, err := services.NewImporter(services.PipelineContext{
		Progress: progress,
		Staging:  repository.NewPostgresStagingRepository(pool),
		Source:   source,
	}, opts...)
	if err != nil {
		log.Fatal("Failed to build importer", zap.Error(err))
	}

	var queue services.JobQueue
	switch cfg.QueueBackend {
	case config.QueueSQS:
		queue = services.NewSQSJobQueue(aws_pkg.NewSQSClient(*awsCfg, cfg.SQSQueueURL))
	default:
		queue = services.NewRedisJobQueue(rdb, cfg.QueueKey)
	}

	workers := services.StartImportWorkers(ctx, cfg.ImportWorkers, queue, importer, cfg.StorageDir)

	// --- 4. HTTP ---

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))
	r.Use(middleware.SecurityHeaders())
	r.Use(apperrors.ErrorMiddleware())

	observer := services.NewProgressObserver(progress, cfg.PollInterval, cfg.WaitTimeout, log)
	uploadLimiter := middleware.NewRateLimiter(ctx, rate.Every(time.Minute/30), 10, 5*time.Minute)

	routes.RegisterRoutes(r,
		controllers.NewImportController(queue, uploads, progress, observer),
		controllers.NewProductController(repository.NewGormProductRepository(db)),
		uploadLimiter.Middleware(),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Product importer starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// --- 5. Graceful shutdown ---

	<-ctx.Done()
	log.Info("Shutting down product importer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	workers.Wait()
	log.Info("Product importer stopped gracefully")
}
