// Пакет config — загрузка и валидация конфигурации Secure Share
// из переменных окружения и необязательного YAML-файла.
//
// Приоритет: переменная окружения SS_* > значение из SS_CONFIG_FILE >
// значение по умолчанию. Ключи YAML — имена переменных без префикса
// SS_ в нижнем регистре (data_dir, registry_backend, ...).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// envPrefix — префикс переменных окружения.
const envPrefix = "SS_"

// Бэкенды хранилищ.
const (
	ContentBackendDisk = "disk"
	ContentBackendS3   = "s3"

	RegistryBackendFile   = "file"
	RegistryBackendRedis  = "redis"
	RegistryBackendSQLite = "sqlite"
)

// Config содержит все параметры конфигурации Secure Share.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Имя экземпляра (метки topologymetrics, логи)
	InstanceID string
	// Корневая директория данных (содержимое для disk-бэкенда)
	DataDir string
	// Директория документа реестра (file) и файла SQLite по умолчанию
	MetaDir string
	// Директория журнала загрузок
	WALDir string

	// Бэкенд содержимого: disk или s3
	ContentBackend string
	S3Bucket       string
	S3Region       string
	// Endpoint S3-совместимого хранилища (MinIO); пустой — AWS
	S3Endpoint string
	S3Prefix   string

	// Бэкенд реестра: file, redis или sqlite
	RegistryBackend string
	RedisURL        string
	RedisPrefix     string
	SQLitePath      string

	// Максимальный размер содержимого в байтах
	MaxContentSize int64
	// TTL, если клиент его не указал
	DefaultTTL time.Duration
	// Разрешённые MIME-типы; nil — список по умолчанию, "*" — любой
	AllowedContentTypes []string

	// Интервал фоновой очистки истёкших записей
	SweepInterval time.Duration
	// Интервал автоматической сверки
	ReconcileInterval time.Duration
	// Минимальный возраст объекта без записи для удаления при сверке
	OrphanGrace time.Duration

	// Размер LRU-кэша содержимого (0 — выключен)
	CacheEntries int
	// Время жизни записи кэша
	CacheTTL time.Duration
	// Объекты крупнее не кэшируются
	CacheMaxItemSize int

	// Базовый адрес для view_url
	PublicURL string
	// Путь к TLS сертификату
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя зависимости (S3) в метриках topologymetrics
	DephealthDepName string
	// Путь health-проверки S3 endpoint
	DephealthHealthPath string
	// Интервал попыток стать ведущим экземпляром обслуживания
	ElectionRetryInterval time.Duration
}

// JournalDir — журнал этого экземпляра. Экземпляры, разделяющие
// SS_WAL_DIR, восстанавливают только свои незавершённые операции.
func (c *Config) JournalDir() string {
	return filepath.Join(c.WALDir, c.InstanceID)
}

// TLSEnabled — заданы ли сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// source — источник значений: окружение поверх YAML-файла.
type source struct {
	file map[string]string
}

// Load загружает конфигурацию, валидирует и возвращает Config или ошибку.
func Load() (*Config, error) {
	src := &source{}
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}
	return load(src)
}

func load(src *source) (*Config, error) {
	cfg := &Config{}
	var err error

	// SS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = src.getInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// SS_INSTANCE_ID — имя экземпляра, оно же имя его журнала в SS_WAL_DIR
	cfg.InstanceID = src.getDefault("INSTANCE_ID", "secure-share")
	if strings.ContainsAny(cfg.InstanceID, `/\`) || cfg.InstanceID == "." || cfg.InstanceID == ".." {
		return nil, fmt.Errorf("SS_INSTANCE_ID: недопустимое значение %q", cfg.InstanceID)
	}

	// SS_DATA_DIR — обязательный
	cfg.DataDir, err = src.getRequired("DATA_DIR")
	if err != nil {
		return nil, err
	}
	cfg.MetaDir = src.getDefault("META_DIR", filepath.Join(cfg.DataDir, ".meta"))
	cfg.WALDir = src.getDefault("WAL_DIR", filepath.Join(cfg.DataDir, ".wal"))

	// SS_CONTENT_BACKEND — disk (по умолчанию) или s3
	cfg.ContentBackend = strings.ToLower(src.getDefault("CONTENT_BACKEND", ContentBackendDisk))
	switch cfg.ContentBackend {
	case ContentBackendDisk:
	case ContentBackendS3:
		cfg.S3Bucket, err = src.getRequired("S3_BUCKET")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SS_CONTENT_BACKEND: недопустимое значение %q, допустимые: disk, s3", cfg.ContentBackend)
	}
	cfg.S3Region = src.getDefault("S3_REGION", "us-east-1")
	cfg.S3Endpoint = src.getDefault("S3_ENDPOINT", "")
	cfg.S3Prefix = src.getDefault("S3_PREFIX", "")

	// SS_REGISTRY_BACKEND — file (по умолчанию), redis или sqlite
	cfg.RegistryBackend = strings.ToLower(src.getDefault("REGISTRY_BACKEND", RegistryBackendFile))
	switch cfg.RegistryBackend {
	case RegistryBackendFile, RegistryBackendSQLite:
	case RegistryBackendRedis:
		cfg.RedisURL, err = src.getRequired("REDIS_URL")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SS_REGISTRY_BACKEND: недопустимое значение %q, допустимые: file, redis, sqlite", cfg.RegistryBackend)
	}
	cfg.RedisPrefix = src.getDefault("REDIS_PREFIX", "ss")
	cfg.SQLitePath = src.getDefault("SQLITE_PATH", filepath.Join(cfg.MetaDir, "registry.db"))

	// SS_MAX_CONTENT_SIZE — максимальный размер содержимого (по умолчанию 100 MiB)
	cfg.MaxContentSize, err = src.getInt64("MAX_CONTENT_SIZE", 100<<20)
	if err != nil {
		return nil, err
	}
	if cfg.MaxContentSize <= 0 {
		return nil, fmt.Errorf("SS_MAX_CONTENT_SIZE: значение должно быть положительным")
	}

	if cfg.DefaultTTL, err = src.getPositiveDuration("DEFAULT_TTL", time.Hour); err != nil {
		return nil, err
	}

	// SS_ALLOWED_CONTENT_TYPES — список через запятую
	if raw := src.getDefault("ALLOWED_CONTENT_TYPES", ""); raw != "" {
		for _, ct := range strings.Split(raw, ",") {
			if ct = strings.TrimSpace(ct); ct != "" {
				cfg.AllowedContentTypes = append(cfg.AllowedContentTypes, ct)
			}
		}
	}

	if cfg.SweepInterval, err = src.getPositiveDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = src.getPositiveDuration("RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OrphanGrace, err = src.getDuration("ORPHAN_GRACE", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OrphanGrace < 0 {
		return nil, fmt.Errorf("SS_ORPHAN_GRACE: значение не может быть отрицательным")
	}

	// SS_CACHE_ENTRIES — размер кэша содержимого (0 — выключен)
	cfg.CacheEntries, err = src.getInt("CACHE_ENTRIES", 0)
	if err != nil {
		return nil, err
	}
	if cfg.CacheEntries < 0 {
		return nil, fmt.Errorf("SS_CACHE_ENTRIES: значение не может быть отрицательным")
	}
	if cfg.CacheTTL, err = src.getPositiveDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	cfg.CacheMaxItemSize, err = src.getInt("CACHE_MAX_ITEM_SIZE", 1<<20)
	if err != nil {
		return nil, err
	}

	cfg.PublicURL = strings.TrimRight(src.getDefault("PUBLIC_URL", ""), "/")

	// SS_TLS_CERT / SS_TLS_KEY — задаются вместе
	cfg.TLSCert = src.getDefault("TLS_CERT", "")
	cfg.TLSKey = src.getDefault("TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("SS_TLS_CERT и SS_TLS_KEY должны задаваться вместе")
	}

	// SS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(src.getDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SS_LOG_LEVEL: %w", err)
	}

	// SS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = src.getDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout, err = src.getPositiveDuration("SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DephealthCheckInterval, err = src.getPositiveDuration("DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	cfg.DephealthGroup = src.getDefault("DEPHEALTH_GROUP", "secure-share")
	cfg.DephealthDepName = src.getDefault("DEPHEALTH_DEP_NAME", "object-storage")
	cfg.DephealthHealthPath = src.getDefault("DEPHEALTH_HEALTH_PATH", "/minio/health/live")
	if cfg.ElectionRetryInterval, err = src.getPositiveDuration("ELECTION_RETRY_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
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

// readFile читает YAML-файл конфигурации в плоскую таблицу SS_*.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("SS_CONFIG_FILE: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("SS_CONFIG_FILE: некорректный YAML: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, val := range raw {
		name := envPrefix + strings.ToUpper(key)
		switch v := val.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[name] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("SS_CONFIG_FILE: ключ %q: вложенные секции не поддерживаются", key)
		default:
			values[name] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// lookup возвращает значение по имени без префикса.
func (s *source) lookup(key string) string {
	if val := os.Getenv(envPrefix + key); val != "" {
		return val
	}
	return s.file[envPrefix+key]
}

// getRequired возвращает значение или ошибку, если оно не задано.
func (s *source) getRequired(key string) (string, error) {
	val := s.lookup(key)
	if val == "" {
		return "", fmt.Errorf("%s%s: обязательный параметр не задан", envPrefix, key)
	}
	return val, nil
}

// getDefault возвращает значение или значение по умолчанию.
func (s *source) getDefault(key, defaultVal string) string {
	if val := s.lookup(key); val != "" {
		return val
	}
	return defaultVal
}

// getInt возвращает целочисленное значение или значение по умолчанию.
func (s *source) getInt(key string, defaultVal int) (int, error) {
	val := s.lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректное целое число: %q", envPrefix, key, val)
	}
	return n, nil
}

// getInt64 возвращает int64 значение или значение по умолчанию.
func (s *source) getInt64(key string, defaultVal int64) (int64, error) {
	val := s.lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректное целое число: %q", envPrefix, key, val)
	}
	return n, nil
}

// getDuration возвращает time.Duration или значение по умолчанию.
func (s *source) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := s.lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", envPrefix, key, val)
	}
	return d, nil
}

// getPositiveDuration — getDuration с проверкой d > 0.
func (s *source) getPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := s.getDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s: значение должно быть положительным, получено %s", envPrefix, key, d)
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
