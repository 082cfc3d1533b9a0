// Пакет config — загрузка и валидация конфигурации LaborFlow
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранилища документов.
const (
	BlobBackendFile = "file"
	BlobBackendGCS  = "gcs"
)

// Config содержит все параметры конфигурации LaborFlow.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (без trailing slash)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API (справочник пользователей)
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS и readiness-проверки
	JWKSClientTimeout time.Duration
	// Claim, в котором IdP передаёт идентификатор компании
	TenantClaim string

	// --- Маппинг групп → ролей ---

	RoleSuperAdminGroups []string
	RoleAdminGroups      []string
	RoleEmployeeGroups   []string

	// --- Хранилище документов ---

	// Бэкенд: file (локальный диск) или gcs (Google Cloud Storage)
	BlobBackend string
	// Директория для бэкенда file
	BlobDir string
	// Bucket для бэкенда gcs
	GCSBucket string
	// Максимальный размер multipart-запроса с файлами
	UploadMaxBytes int64

	// --- Kafka (внешние уведомления) ---

	// Брокеры Kafka; пустой список отключает внешнюю рассылку
	KafkaBrokers []string
	// Топик исходящих уведомлений
	KafkaTopic string
	// Количество попыток записи сообщения
	KafkaMaxAttempts int

	// --- Уведомления ---

	// Число горутин диспетчера внешних уведомлений
	NotifyWorkers int
	// Ёмкость очереди диспетчера
	NotifyQueueSize int
	// Время жизни уведомления
	NotificationRetention time.Duration
	// Интервал фоновой очистки просроченных уведомлений
	RetentionInterval time.Duration

	// --- Кэш каталога получателей ---

	DirectoryCacheSize int
	DirectoryCacheTTL  time.Duration

	// --- Конвейер ---

	// Строгий режим: неизвестный этап — ошибка валидации, иначе no-op
	PipelineStrictStages bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// LoadDotEnv подгружает переменные из .env (если файл есть).
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("загрузка %s: %w", p, err)
		}
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocognit,cyclop,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if err := loadLogging(cfg); err != nil {
		return nil, err
	}
	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}

	// --- Сервер ---

	// LF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("LF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// --- Keycloak ---

	cfg.KeycloakURL, err = getEnvRequired("LF_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	cfg.KeycloakRealm = getEnvDefault("LF_KEYCLOAK_REALM", "laborflow")

	cfg.KeycloakClientID, err = getEnvRequired("LF_KEYCLOAK_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	cfg.KeycloakClientSecret, err = getEnvRequired("LF_KEYCLOAK_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.CACertPath = getEnvDefault("LF_CA_CERT_PATH", "")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("LF_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("LF_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTLeeway, err = getEnvDuration("LF_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LF_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("LF_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LF_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("LF_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LF_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// LF_TENANT_CLAIM — claim с идентификатором компании (по умолчанию tenant_id)
	cfg.TenantClaim = getEnvDefault("LF_TENANT_CLAIM", "tenant_id")

	// --- Маппинг групп → ролей ---

	cfg.RoleSuperAdminGroups = parseCSV(getEnvDefault("LF_ROLE_SUPER_ADMIN_GROUPS", "laborflow-super-admins"))
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("LF_ROLE_ADMIN_GROUPS", "laborflow-admins"))
	cfg.RoleEmployeeGroups = parseCSV(getEnvDefault("LF_ROLE_EMPLOYEE_GROUPS", "laborflow-employees"))

	// --- Хранилище документов ---

	cfg.BlobBackend = getEnvDefault("LF_BLOB_BACKEND", BlobBackendFile)
	switch cfg.BlobBackend {
	case BlobBackendFile:
		cfg.BlobDir = getEnvDefault("LF_BLOB_DIR", "/var/lib/laborflow/documents")
	case BlobBackendGCS:
		cfg.GCSBucket, err = getEnvRequired("LF_GCS_BUCKET")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("LF_BLOB_BACKEND: недопустимое значение %q, допустимые: file, gcs", cfg.BlobBackend)
	}

	uploadMax, err := getEnvInt("LF_UPLOAD_MAX_BYTES", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("LF_UPLOAD_MAX_BYTES: %w", err)
	}
	if uploadMax <= 0 {
		return nil, fmt.Errorf("LF_UPLOAD_MAX_BYTES: значение должно быть положительным")
	}
	cfg.UploadMaxBytes = int64(uploadMax)

	// --- Kafka ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("LF_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("LF_KAFKA_TOPIC", "laborflow.notifications")
	cfg.KafkaMaxAttempts, err = getEnvInt("LF_KAFKA_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("LF_KAFKA_MAX_ATTEMPTS: %w", err)
	}

	// --- Уведомления ---

	cfg.NotifyWorkers, err = getEnvInt("LF_NOTIFY_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("LF_NOTIFY_WORKERS: %w", err)
	}
	if cfg.NotifyWorkers < 1 || cfg.NotifyWorkers > 64 {
		return nil, fmt.Errorf("LF_NOTIFY_WORKERS: значение %d вне допустимого диапазона 1-64", cfg.NotifyWorkers)
	}
	cfg.NotifyQueueSize, err = getEnvInt("LF_NOTIFY_QUEUE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("LF_NOTIFY_QUEUE_SIZE: %w", err)
	}
	if cfg.NotifyQueueSize < 1 {
		return nil, fmt.Errorf("LF_NOTIFY_QUEUE_SIZE: значение должно быть положительным")
	}

	// LF_NOTIFICATION_RETENTION — срок хранения уведомлений (по умолчанию 30 дней)
	cfg.NotificationRetention, err = getEnvDuration("LF_NOTIFICATION_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LF_NOTIFICATION_RETENTION: %w", err)
	}
	cfg.RetentionInterval, err = getEnvDuration("LF_RETENTION_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LF_RETENTION_INTERVAL: %w", err)
	}

	// --- Кэш каталога получателей ---

	cfg.DirectoryCacheSize, err = getEnvInt("LF_DIRECTORY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("LF_DIRECTORY_CACHE_SIZE: %w", err)
	}
	cfg.DirectoryCacheTTL, err = getEnvDuration("LF_DIRECTORY_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LF_DIRECTORY_CACHE_TTL: %w", err)
	}

	// --- Конвейер ---

	cfg.PipelineStrictStages, err = getEnvBool("LF_PIPELINE_STRICT_STAGES", true)
	if err != nil {
		return nil, fmt.Errorf("LF_PIPELINE_STRICT_STAGES: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("LF_DEPHEALTH_GROUP", "laborflow")
	cfg.DephealthCheckInterval, err = getEnvDuration("LF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("LF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// LoadDatabase загружает только параметры логирования и PostgreSQL.
// Используется утилитой laborctl, которой не нужны Keycloak и Kafka.
func LoadDatabase() (*Config, error) {
	cfg := &Config{}
	if err := loadLogging(cfg); err != nil {
		return nil, err
	}
	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}

	var err error
	cfg.NotificationRetention, err = getEnvDuration("LF_NOTIFICATION_RETENTION", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LF_NOTIFICATION_RETENTION: %w", err)
	}
	return cfg, nil
}

// loadLogging читает LF_LOG_LEVEL и LF_LOG_FORMAT.
func loadLogging(cfg *Config) error {
	var err error
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LF_LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("LF_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("LF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}
	return nil
}

// loadDatabase читает параметры подключения к PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("LF_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("LF_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("LF_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("LF_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("LF_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("LF_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("LF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("LF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных —
// только для лейблов метрик topologymetrics.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// KafkaEnabled сообщает, настроена ли внешняя рассылка через Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
