package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/pipeline"
)

var defaultModelCandidates = []string{
	"runs/pharma/exp_gpu_fixed/weights/best.pt",
	"runs/detect/train/weights/best.pt",
	"models/best.pt",
}

type Config struct {
	ServerAddr string
	GRPCAddr   string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	DetectorURL        string
	DetectorTimeout    time.Duration
	ModelCandidates    []string
	DetectConfidence   float64
	InputSize          int
	SerializeInference bool

	InferenceEvery      int
	LogConfidenceFloor  float64
	RestrictToInventory bool

	LedgerPath    string
	LedgerColumns []string
	InventoryPath string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	UploadDir      string
	RateLimitRPS   float64
	RateLimitBurst int

	OCREnabled     bool
	TesseractLangs []string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":50051"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),

		DetectorURL:        getEnv("DETECTOR_URL", "http://localhost:5000"),
		DetectorTimeout:    time.Duration(getEnvInt("DETECTOR_TIMEOUT_MS", 10000)) * time.Millisecond,
		ModelCandidates:    getEnvList("MODEL_CANDIDATES", defaultModelCandidates),
		DetectConfidence:   getEnvFloat("DETECT_CONFIDENCE", pipeline.DefaultDetectConfidence),
		InputSize:          getEnvInt("INPUT_SIZE", 640),
		SerializeInference: getEnvBool("SERIALIZE_INFERENCE", true),

		InferenceEvery:      getEnvInt("INFERENCE_EVERY", pipeline.DefaultInferenceEvery),
		LogConfidenceFloor:  getEnvFloat("LOG_CONFIDENCE_FLOOR", pipeline.DefaultLogFloor),
		RestrictToInventory: getEnvBool("RESTRICT_TO_INVENTORY", true),

		LedgerPath:    getEnv("LEDGER_PATH", "data/logs/audit_trail.csv"),
		LedgerColumns: getEnvList("LEDGER_COLUMNS", ledger.DefaultColumns),
		InventoryPath: getEnv("INVENTORY_PATH", "data/inventory.json"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SessionTTL:    time.Duration(getEnvInt("SESSION_TTL_MINUTES", 60)) * time.Minute,

		UploadDir:      getEnv("UPLOAD_DIR", os.TempDir()),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),

		OCREnabled:     getEnvBool("OCR_ENABLED", false),
		TesseractLangs: getEnvList("TESSERACT_LANGS", []string{"eng"}),
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.ModelCandidates) == 0 {
		errs = append(errs, errors.New("MODEL_CANDIDATES must name at least one model"))
	}
	if c.LogConfidenceFloor < 0 || c.LogConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("LOG_CONFIDENCE_FLOOR must be within [0,1], got %v", c.LogConfidenceFloor))
	}
	if c.DetectConfidence < 0 || c.DetectConfidence > 1 {
		errs = append(errs, fmt.Errorf("DETECT_CONFIDENCE must be within [0,1], got %v", c.DetectConfidence))
	}
	if c.InferenceEvery < 1 {
		errs = append(errs, fmt.Errorf("INFERENCE_EVERY must be at least 1, got %d", c.InferenceEvery))
	}
	if _, err := ledger.ValidateColumns(c.LedgerColumns); err != nil {
		errs = append(errs, fmt.Errorf("LEDGER_COLUMNS: %w", err))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
