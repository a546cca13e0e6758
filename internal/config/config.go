package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CameraAddress       string        // GigE camera address (IP or stream URL)
	PreviewFPS          int           // default preview frame rate
	CaptureTimeout      time.Duration // bounded wait for a single frame
	HibernationTimeout  time.Duration // idle time before the preview hibernates
	PartsModelPath      string
	DefectsModelPath    string
	ConfidenceThreshold float64
	IoUThreshold        float64
	PixelToMMFactor     float64 // 0 = not calibrated, measurements stay in pixels
	RetentionLimit      int     // max processed images kept on disk
	ImageDirectory      string
	DatabasePath        string
	RoutineAngles       int
	RoutineCaptureDelay time.Duration
	KafkaBrokers        string // empty disables event publishing
	KafkaTopic          string
	LogDirectory        string
}

func Load() *Config {
	// .env is optional, a missing file is not an error
	_ = godotenv.Load()

	return &Config{
		CameraAddress:       getEnv("CAMERA_ADDRESS", "172.16.1.24"),
		PreviewFPS:          getEnvAsInt("PREVIEW_FPS", 5),
		CaptureTimeout:      getEnvAsDuration("CAPTURE_TIMEOUT", 3*time.Second),
		HibernationTimeout:  getEnvAsDuration("HIBERNATION_TIMEOUT", time.Minute),
		PartsModelPath:      getEnv("PARTS_MODEL_PATH", filepath.Join(".", "models", "parts_seg.onnx")),
		DefectsModelPath:    getEnv("DEFECTS_MODEL_PATH", filepath.Join(".", "models", "defects_seg.onnx")),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.55),
		IoUThreshold:        getEnvAsFloat("IOU_THRESHOLD", 0.35),
		PixelToMMFactor:     getEnvAsFloat("PX_TO_MM_FACTOR", 0),
		RetentionLimit:      getEnvAsInt("RETENTION_LIMIT", 10),
		ImageDirectory:      getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "inspection.db")),
		RoutineAngles:       getEnvAsInt("ROUTINE_ANGLES", 6),
		RoutineCaptureDelay: getEnvAsDuration("ROUTINE_CAPTURE_DELAY", 2*time.Second),
		KafkaBrokers:        getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "inspection-events"),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
