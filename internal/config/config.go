package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Engine   EngineConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type UploadConfig struct {
	// AllowedFiletypes restricts accepted upload extensions (without dots).
	AllowedFiletypes []string
	// MaxFileSize is the upload size ceiling in bytes.
	MaxFileSize int64
	// UploadDir holds uploaded audio files.
	UploadDir string
	// DataDir holds derived transcript artifacts.
	DataDir string
}

type EngineConfig struct {
	// WhisperBin is the transcription engine executable.
	WhisperBin string
	// FFprobeBin is the media probe executable.
	FFprobeBin string
	// ModelDir is where engine models are downloaded and cached.
	ModelDir string
	// Concurrency is the worker pool size.
	Concurrency int
}

// defaultFiletypes covers the common audio/video containers the engine can
// decode.
var defaultFiletypes = []string{
	"mp3", "mp4", "m4a", "wav", "flac", "ogg", "oga", "webm",
	"mpeg", "mpga", "avi", "mkv", "mov",
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxFileSize, err := getEnvInt64("MAXFILESIZE", 500<<20)
	if err != nil {
		return nil, fmt.Errorf("invalid MAXFILESIZE: %w", err)
	}

	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Upload: UploadConfig{
			AllowedFiletypes: getEnvList("ALLOWED_FILETYPES", defaultFiletypes),
			MaxFileSize:      maxFileSize,
			UploadDir:        getEnv("UPLOAD_DIR", "uploads"),
			DataDir:          getEnv("DATA_DIR", "data"),
		},
		Engine: EngineConfig{
			WhisperBin:  getEnv("WHISPER_BIN", "whisper"),
			FFprobeBin:  getEnv("FFPROBE_BIN", "ffprobe"),
			ModelDir:    getEnv("MODEL_DIR", "models"),
			Concurrency: concurrency,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Allowed reports whether the extension (with or without a leading dot) is
// an accepted upload type.
func (u UploadConfig) Allowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range u.AllowedFiletypes {
		if ext == allowed {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(item, ".")))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
