package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full service configuration, assembled from environment
// variables (and an optional .env/.env.local file) at startup.
type Config struct {
	Server     ServerConfig
	TileServer TileServerConfig
	Detection  DetectionConfig
	Jobs       JobsConfig
	History    HistoryConfig
	Archive    ArchiveConfig
}

// TileServerConfig controls where raster tiles are fetched from.
type TileServerConfig struct {
	URLTemplate string
	UserAgent   string
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string
	Port int
}

// DetectionConfig holds the default detection parameters applied when a
// PolygonRequest omits them, and the job-id validation bounds.
// PolygonRequest.ApplyDefaults applies only the numeric defaults; the two
// boolean defaults are not applied to requests.
type DetectionConfig struct {
	ModelPath                      string
	DetectorURL                    string
	DefaultZoom                    int
	DefaultConfidence              float64
	DefaultBatchSize               int
	DefaultEnableMerging           bool
	DefaultMergeIoUThreshold       float64
	DefaultMergeTouchEnabled       bool
	DefaultMergeMinEdgeDistanceDeg float64
	JobIDMinLength                 int
	JobIDMaxLength                 int
}

// JobsConfig controls job concurrency and cleanup.
type JobsConfig struct {
	MaxConcurrentJobs    int
	CleanupIntervalHours float64
	WorkDir              string
}

// HistoryConfig configures the optional Postgres audit log. When
// DatabaseURL is empty the history logger is a no-op.
type HistoryConfig struct {
	DatabaseURL string
}

// ArchiveConfig configures the optional S3/R2 archival of completed job
// output. When Bucket is empty the archiver is a no-op.
type ArchiveConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Prefix          string
}

// LoadConfig loads configuration from environment variables and an
// optional .env file, preferring a sibling .env.local over .env the way
// Next.js-style tooling does, so local overrides never need to touch the
// checked-in .env.
func LoadConfig(envPath string) (*Config, error) {
	localEnvPath := strings.TrimSuffix(envPath, ".env") + ".env.local"
	if _, err := os.Stat(localEnvPath); err == nil {
		if err := loadEnvFile(localEnvPath); err != nil {
			return nil, fmt.Errorf("failed to load local env file: %w", err)
		}
	} else if _, err := os.Stat(envPath); err == nil {
		if err := loadEnvFile(envPath); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("HOST", "0.0.0.0"),
			Port: getEnvInt("PORT", 5050),
		},
		TileServer: TileServerConfig{
			URLTemplate: getEnv("TILE_URL_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),
			UserAgent:   getEnv("TILE_USER_AGENT", "building-detection-service/1.0"),
		},
		Detection: DetectionConfig{
			ModelPath:                      getEnv("MODEL_PATH", "best.pt"),
			DetectorURL:                    getEnv("DETECTOR_URL", "http://127.0.0.1:8500/detect"),
			DefaultZoom:                    getEnvInt("DEFAULT_ZOOM", 18),
			DefaultConfidence:              getEnvFloat("DEFAULT_CONFIDENCE", 0.25),
			DefaultBatchSize:               getEnvInt("DEFAULT_BATCH_SIZE", 5),
			DefaultEnableMerging:           getEnvBool("DEFAULT_ENABLE_MERGING", true),
			DefaultMergeIoUThreshold:       getEnvFloat("DEFAULT_MERGE_IOU_THRESHOLD", 0.1),
			DefaultMergeTouchEnabled:       getEnvBool("DEFAULT_MERGE_TOUCH_ENABLED", true),
			DefaultMergeMinEdgeDistanceDeg: getEnvFloat("DEFAULT_MERGE_MIN_EDGE_DISTANCE_DEG", 0.00001),
			JobIDMinLength:                 getEnvInt("JOB_ID_MIN_LENGTH", 3),
			JobIDMaxLength:                 getEnvInt("JOB_ID_MAX_LENGTH", 50),
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs:    getEnvInt("MAX_CONCURRENT_JOBS", 2),
			CleanupIntervalHours: getEnvFloat("JOB_CLEANUP_INTERVAL_HOURS", 1.0),
			WorkDir:              getEnv("JOB_WORK_DIR", "/tmp/building-detection"),
		},
		History: HistoryConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Archive: ArchiveConfig{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          getEnv("S3_BUCKET", ""),
			Prefix:          getEnv("S3_BUCKET_PATH", "jobs"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate mirrors the original's validate_configuration(): catch
// obviously-broken settings at startup rather than failing deep inside a
// request.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port number: %d", c.Server.Port))
	}
	if c.Jobs.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Sprintf("max concurrent jobs must be positive: %d", c.Jobs.MaxConcurrentJobs))
	}
	if c.Detection.JobIDMinLength >= c.Detection.JobIDMaxLength {
		errs = append(errs, "job ID min length must be less than max length")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// Print logs the active (non-sensitive) configuration at startup.
func (c *Config) Print() {
	fmt.Println("Building Detection Service configuration:")
	fmt.Printf("  Host: %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("  Model: %s\n", c.Detection.ModelPath)
	fmt.Printf("  Max concurrent jobs: %d\n", c.Jobs.MaxConcurrentJobs)
	fmt.Printf("  History (Postgres): %v\n", c.History.DatabaseURL != "")
	fmt.Printf("  Archive (S3/R2): %v\n", c.Archive.Bucket != "")
	fmt.Println(strings.Repeat("=", 50))
}

// loadEnvFile loads environment variables from a .env file.
func loadEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			os.Setenv(key, value)
		}
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
