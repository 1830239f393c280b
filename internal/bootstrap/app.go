package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"braillescan/internal/ai"
	appsvc "braillescan/internal/app"
	"braillescan/internal/assistant"
	"braillescan/internal/cache"
	"braillescan/internal/config"
	"braillescan/internal/detection"
	"braillescan/internal/platform/database"
	"braillescan/internal/platform/logger"
	mysqlClient "braillescan/internal/platform/mysql"
	postgresClient "braillescan/internal/platform/postgres"
	rabbitmqClient "braillescan/internal/platform/rabbitmq"
	redisClient "braillescan/internal/platform/redis"
	sqliteClient "braillescan/internal/platform/sqlite"
	"braillescan/internal/repository"
	"braillescan/internal/storage"
	"braillescan/internal/worker"
)

type App struct {
	Config         *config.Config
	Logger         *zerolog.Logger
	DB             *gorm.DB
	Redis          *redis.Client
	MQConn         *amqp.Connection
	EventWorker    *worker.DetectionEventWorker
	Bucket         *storage.Bucket
	Detector       *detection.Detector
	BrailleService *appsvc.BrailleService

	onnx *detection.ONNXEngine

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.App.Name,
	})

	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	sessionRepo := repository.NewSessionRepository(db)
	detectionRepo := repository.NewDetectionRepository(db)

	var resultCache *cache.ResultCache
	if cfg.Redis.Addr != "" {
		a.Redis, err = redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		resultCache = cache.NewResultCache(
			a.Redis,
			time.Duration(cfg.Redis.ResultsTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.ResultsDirtyTTLSeconds)*time.Second,
		)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("result cache enabled")
	}

	var publisher *rabbitmqClient.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.DetectionQueue)
		if err != nil {
			return err
		}
		publisher = rabbitmqClient.NewEventPublisher(a.MQConn, cfg.RabbitMQ.DetectionQueue)
		if resultCache != nil {
			a.EventWorker = worker.NewDetectionEventWorker(a.MQConn, detectionRepo, resultCache, cfg.RabbitMQ.DetectionQueue, *log)
			if err := a.EventWorker.Start(ctx); err != nil {
				return fmt.Errorf("start detection event worker failed: %w", err)
			}
		}
		log.Info().Str("queue", cfg.RabbitMQ.DetectionQueue).Msg("detection events enabled")
	}

	a.Bucket, err = storage.NewBucket(storage.Options{
		Root:          cfg.Storage.Root,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		SigningSecret: cfg.Storage.SigningSecret,
		SignedURLTTL:  time.Duration(cfg.Storage.SignedURLMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	a.Detector = detection.NewDetector(a.newEngine(), cfg.Detector.Confidence)

	interpreter := assistant.New(ai.NewOpenAICompatibleClient(nil), ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	})
	if !interpreter.Configured() {
		log.Warn().Msg("llm not configured; detected rows are returned uninterpreted")
	}

	deps := appsvc.BrailleServiceDeps{
		Sessions:  sessionRepo,
		Records:   detectionRepo,
		Blobs:     a.Bucket,
		Detector:  a.Detector,
		Assistant: interpreter,
		TempDir:   cfg.App.TempDir,
		Logger:    *log,
	}
	// Typed nils must not leak into the optional interfaces.
	if publisher != nil {
		deps.Publisher = publisher
	}
	if resultCache != nil {
		deps.Cache = resultCache
	}
	a.BrailleService = appsvc.NewBrailleService(deps)
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*gorm.DB, error) {
	gormCfg := database.GormConfig(log)
	switch cfg.Database.Driver {
	case "postgres":
		return postgresClient.New(ctx, cfg.DSN(), gormCfg)
	case "sqlite":
		return sqliteClient.New(ctx, cfg.DSN(), gormCfg)
	default:
		return mysqlClient.New(ctx, cfg.DSN(), gormCfg)
	}
}

func (a *App) newEngine() detection.Engine {
	d := a.Config.Detector
	if d.Engine == "onnx" {
		a.onnx = detection.NewONNXEngine(detection.ONNXOptions{
			ModelPath:     d.ModelPath,
			LabelsPath:    d.LabelsPath,
			SharedLibPath: d.ONNXSharedLib,
			InputSize:     d.InputSize,
			Confidence:    d.Confidence,
			Overlap:       d.Overlap,
		})
		return a.onnx
	}
	return detection.NewRemoteEngine(detection.RemoteOptions{
		BaseURL:    d.BaseURL,
		APIKey:     d.APIKey,
		Model:      d.Model,
		Version:    d.Version,
		Confidence: d.Confidence,
		Overlap:    d.Overlap,
	})
}

func (a *App) Close() error {
	var closeErr error
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.onnx != nil {
		a.onnx.Close()
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
