// Точка входа LaborFlow — конвейер трудоустройства работников
// и лента уведомлений компании.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт хранилище документов, внешнюю рассылку и сервисный слой,
// запускает фоновые задачи (диспетчер, очистка уведомлений, topologymetrics)
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/laborflow/internal/api/handlers"
	"github.com/bigkaa/laborflow/internal/api/middleware"
	"github.com/bigkaa/laborflow/internal/api/openapi"
	"github.com/bigkaa/laborflow/internal/blobstore"
	"github.com/bigkaa/laborflow/internal/config"
	"github.com/bigkaa/laborflow/internal/database"
	"github.com/bigkaa/laborflow/internal/domain/rbac"
	"github.com/bigkaa/laborflow/internal/keycloak"
	"github.com/bigkaa/laborflow/internal/notify"
	"github.com/bigkaa/laborflow/internal/repository"
	"github.com/bigkaa/laborflow/internal/server"
	"github.com/bigkaa/laborflow/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("LaborFlow завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфигурация: .env (если есть) + переменные окружения
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("LaborFlow запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Миграции и пул соединений
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
	// через тот же пул и обнаруживает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 4. HTTP-клиент с кастомным CA для Keycloak
	var httpClientCA *http.Client
	if cfg.CACertPath != "" {
		httpClientCA, err = middleware.HTTPClientWithCA(cfg.CACertPath, 30*time.Second)
		if err != nil {
			return err
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 5. Repositories
	txRunner := repository.NewTxRunner(pool)
	workerRepo := repository.NewWorkerRepository(pool, txRunner)
	demandRepo := repository.NewJobDemandRepository(pool)
	settingsRepo := repository.NewCompanySettingsRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	// 6. Хранилище документов
	blobs, closeBlobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBlobs()

	// 7. Внешняя рассылка: Kafka или журнал
	var notifier notify.Notifier
	if cfg.KafkaEnabled() {
		kafkaNotifier := notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			MaxAttempts: cfg.KafkaMaxAttempts,
		}, logger)
		defer func() { _ = kafkaNotifier.Close() }()
		notifier = kafkaNotifier
		logger.Info("Внешняя рассылка через Kafka",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	} else {
		notifier = notify.NewLogNotifier(logger)
		logger.Warn("LF_KAFKA_BROKERS не задана, внешние уведомления только пишутся в лог")
	}

	// 8. Каталог пользователей Keycloak (получатели внешних уведомлений)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		httpClientCA,
		logger,
	)
	directory := keycloak.NewDirectory(kcClient, cfg.TenantClaim, cfg.DirectoryCacheSize, cfg.DirectoryCacheTTL)

	// 9. Services
	dispatcher := service.NewDispatcher(directory, notifier, cfg.NotifyWorkers, cfg.NotifyQueueSize, logger)
	notificationSvc := service.NewNotificationService(notificationRepo, dispatcher, cfg.NotificationRetention, logger)
	settingsSvc := service.NewSettingsService(settingsRepo, notificationSvc, logger)
	pipelineSvc := service.NewPipelineService(
		workerRepo, demandRepo, blobs,
		settingsSvc, notificationSvc,
		cfg.PipelineStrictStages,
		logger,
	)
	retentionSvc := service.NewRetentionService(notificationRepo, cfg.RetentionInterval, logger)

	// 10. topologymetrics — мониторинг PostgreSQL и Keycloak
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "laborflow",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PostgresURL:     cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	var deps handlers.DependencyReporter
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
	}

	// 11. Readiness checkers и API handler
	pgChecker := database.NewReadinessChecker(pool)
	kcChecker, err := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		return err
	}
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(pgChecker, kcChecker, deps).WithDirectoryChecker(kcClient),
		pipelineSvc,
		notificationSvc,
		settingsSvc,
		cfg.UploadMaxBytes,
		logger,
	)

	// 12. JWT и проверка запросов по OpenAPI-контракту
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:     cfg.JWTJWKSURL,
		CACertPath:  cfg.CACertPath,
		Issuer:      cfg.JWTIssuer,
		TenantClaim: cfg.TenantClaim,
		Groups: rbac.GroupMapping{
			SuperAdminGroups: cfg.RoleSuperAdminGroups,
			AdminGroups:      cfg.RoleAdminGroups,
			EmployeeGroups:   cfg.RoleEmployeeGroups,
		},
		JWKSClientTimeout:   cfg.JWKSClientTimeout,
		JWKSRefreshInterval: cfg.JWKSRefreshInterval,
		Leeway:              cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	doc, err := openapi.Load()
	if err != nil {
		return err
	}
	validator, err := middleware.NewOpenAPIValidator(doc, logger)
	if err != nil {
		return err
	}

	// 13. Фоновые задачи. Диспетчер не зависит от ctx: его останавливает
	// Stop после завершения HTTP-сервера
	dispatcher.Start(ctx)
	retentionSvc.Start(ctx)
	if dephealthSvc != nil {
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 14. HTTP-сервер до сигнала завершения
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	runErr := g.Wait()

	// 15. Остановка фоновых задач: сначала источники событий, затем рассылка
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	retentionSvc.Stop()
	dispatcher.Stop()

	logger.Info("LaborFlow остановлен")
	return runErr
}

// newBlobStore создаёт хранилище документов по LF_BLOB_BACKEND.
// Возвращаемая функция освобождает ресурсы бэкенда.
func newBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Store, func(), error) {
	switch cfg.BlobBackend {
	case config.BlobBackendGCS:
		store, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Документы хранятся в GCS", slog.String("bucket", cfg.GCSBucket))
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := blobstore.NewFileStore(cfg.BlobDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Документы хранятся на диске", slog.String("dir", cfg.BlobDir))
		return store, func() {}, nil
	}
}
