package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"vidconvert/internal/logging"
	"vidconvert/internal/recovery"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Config holds all engine configuration.
type Config struct {
	InputDir  string
	OutputDir string
	WorkDir   string
	Workers   int

	StatusAddr  string // empty disables the status server
	RatioPolicy string // "warn" or "fail"
	TargetCodec string // skip inputs already in this codec, e.g. "hevc"

	// Encoder knobs
	FFmpegBinary  string
	FFprobeBinary string
	VideoCodec    string
	CRF           int
	Preset        string

	RetryPolicy recovery.RetryPolicy

	// Derived paths
	SessionsDir string
	StagingDir  string
	HistoryPath string
}

// LoadConfig reads configuration from environment variables and
// validates directories. Command-line flags override the result in
// main.
func LoadConfig() (*Config, error) {
	printBanner()

	cfg := &Config{
		InputDir:      getEnv("INPUT_DIR", ""),
		OutputDir:     getEnv("OUTPUT_DIR", ""),
		WorkDir:       getEnv("WORK_DIR", defaultWorkDir()),
		Workers:       getEnvInt("CONVERT_WORKERS", 0),
		StatusAddr:    getEnv("STATUS_ADDR", ""),
		RatioPolicy:   getEnv("RATIO_POLICY", "warn"),
		TargetCodec:   getEnv("TARGET_CODEC", "hevc"),
		FFmpegBinary:  getEnv("FFMPEG_BINARY", "ffmpeg"),
		FFprobeBinary: getEnv("FFPROBE_BINARY", "ffprobe"),
		VideoCodec:    getEnv("VIDEO_CODEC", "libx265"),
		CRF:           getEnvInt("VIDEO_CRF", 23),
		Preset:        getEnv("VIDEO_PRESET", "medium"),
		RetryPolicy: recovery.RetryPolicy{
			MaxRetries:        getEnvInt("MAX_RETRIES", 3),
			BaseDelay:         getEnvDuration("RETRY_BASE_DELAY", 5*time.Second),
			BackoffMultiplier: 2,
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 60*time.Second),
		},
	}

	switch cfg.RatioPolicy {
	case "warn", "fail":
	default:
		return nil, fmt.Errorf("RATIO_POLICY must be \"warn\" or \"fail\", got %q", cfg.RatioPolicy)
	}

	cfg.derivePaths()
	return cfg, nil
}

// derivePaths fills in the work-directory layout.
func (c *Config) derivePaths() {
	c.SessionsDir = filepath.Join(c.WorkDir, "sessions")
	c.StagingDir = filepath.Join(c.WorkDir, "staging")
	c.HistoryPath = filepath.Join(c.WorkDir, "history.db")
}

// Validate checks that required directories exist or can be created.
// Called after flags are applied.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("input directory is required (-input or INPUT_DIR)")
	}
	fi, err := os.Stat(c.InputDir)
	if err != nil {
		return fmt.Errorf("input directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("input path %s is not a directory", c.InputDir)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required (-output or OUTPUT_DIR)")
	}
	for _, dir := range []string{c.OutputDir, c.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	c.derivePaths()
	return nil
}

// LogConfig echoes the effective configuration.
func (c *Config) LogConfig() {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  INPUT_DIR:        %s", c.InputDir)
	logging.Info("  OUTPUT_DIR:       %s", c.OutputDir)
	logging.Info("  WORK_DIR:         %s", c.WorkDir)
	logging.Info("  Workers:          %d", c.Workers)
	logging.Info("  Target codec:     %s (%s crf %d, preset %s)", c.TargetCodec, c.VideoCodec, c.CRF, c.Preset)
	logging.Info("  Retry policy:     %d retries, base %s, cap %s",
		c.RetryPolicy.MaxRetries, c.RetryPolicy.BaseDelay, c.RetryPolicy.MaxDelay)
	logging.Info("  Ratio policy:     %s", c.RatioPolicy)
	if c.StatusAddr != "" {
		logging.Info("  Status server:    %s", c.StatusAddr)
	}
	logging.Info("------------------------------------------------------------")
}

func defaultWorkDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vidconvert"
	}
	return filepath.Join(home, ".vidconvert")
}

func printBanner() {
	logging.Printf("vidconvert %s (%s) %s %s/%s",
		Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// LogFatal prints a fatal configuration error and exits.
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logging.Warn("Invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logging.Warn("Invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
