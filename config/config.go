package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	EnvConfigPath   = "DIARIZER_CONFIG"
	EnvAPIKey       = "OPENAI_API_KEY"
	EnvBaseURL      = "OPENAI_BASE_URL"
	EnvChunkSeconds = "CHUNK_SECONDS"
	EnvAddr         = "DIARIZER_ADDR"
	EnvWorkers      = "DIARIZER_WORKERS"
	EnvQueueSize    = "DIARIZER_QUEUE_SIZE"
	EnvJobTimeout   = "DIARIZER_JOB_TIMEOUT"
	EnvWorkDir      = "DIARIZER_WORK_DIR"
	EnvYtDlpPath    = "DIARIZER_YTDLP_PATH"
	EnvFFmpegPath   = "DIARIZER_FFMPEG_PATH"
	EnvFFprobePath  = "DIARIZER_FFPROBE_PATH"
	EnvLogLevel     = "DIARIZER_LOG_LEVEL"
	EnvLogJSON      = "DIARIZER_LOG_JSON"
)

// Chunk duration bounds in seconds for backend chunked transcription.
const (
	MinChunkSeconds     = 10
	MaxChunkSeconds     = 600
	DefaultChunkSeconds = 120
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Jobs    JobsConfig    `toml:"jobs"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Tools   ToolsConfig   `toml:"tools"`
	Audio   AudioConfig   `toml:"audio"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	MaxUploadMB     int64    `toml:"max_upload_mb"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type JobsConfig struct {
	Workers     int      `toml:"workers"`
	QueueSize   int      `toml:"queue_size"`
	Timeout     Duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`
	RetryDelay  Duration `toml:"retry_delay"`
	Retention   Duration `toml:"retention"`
}

type OpenAIConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	TranscriptionModel string `toml:"transcription_model"`
	ChatModel          string `toml:"chat_model"`
	SummaryModel       string `toml:"summary_model"`
	Encoding           string `toml:"encoding"`
	MaxRetries         int    `toml:"max_retries"`
}

type ToolsConfig struct {
	YtDlpPath   string   `toml:"ytdlp_path"`
	FFmpegPath  string   `toml:"ffmpeg_path"`
	FFprobePath string   `toml:"ffprobe_path"`
	GracePeriod Duration `toml:"grace_period"`
}

type AudioConfig struct {
	WorkDir         string  `toml:"work_dir"`
	SampleRate      int     `toml:"sample_rate"`
	ChunkSeconds    int     `toml:"chunk_seconds"`
	EnergyThreshold float64 `toml:"energy_threshold"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Duration decodes TOML strings such as "30m" into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CorsOrigins:     []string{"*"},
			MaxUploadMB:     200,
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Jobs: JobsConfig{
			Workers:     2,
			QueueSize:   32,
			Timeout:     Duration{30 * time.Minute},
			MaxAttempts: 2,
			RetryDelay:  Duration{5 * time.Second},
			Retention:   Duration{time.Hour},
		},
		OpenAI: OpenAIConfig{
			TranscriptionModel: "gpt-4o-mini-transcribe",
			ChatModel:          "gpt-4o-mini",
			SummaryModel:       "gpt-4o-mini",
			Encoding:           "cl100k_base",
			MaxRetries:         7,
		},
		Tools: ToolsConfig{
			YtDlpPath:   "yt-dlp",
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			GracePeriod: Duration{5 * time.Second},
		},
		Audio: AudioConfig{
			WorkDir:         "resources/audios",
			SampleRate:      16000,
			ChunkSeconds:    DefaultChunkSeconds,
			EnergyThreshold: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .env (if present), then the TOML file at path (if non-empty),
// then applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Audio.ChunkSeconds = ClampChunkSeconds(cfg.Audio.ChunkSeconds)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChunkSeconds)); v != "" {
		cfg.Audio.ChunkSeconds = ParseChunkSeconds(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkDir)); v != "" {
		cfg.Audio.WorkDir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvYtDlpPath)); v != "" {
		cfg.Tools.YtDlpPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFFmpegPath)); v != "" {
		cfg.Tools.FFmpegPath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvFFprobePath)); v != "" {
		cfg.Tools.FFprobePath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogJSON)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogJSON, err)
		}
		cfg.Logging.JSON = b
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkers)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		cfg.Jobs.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvQueueSize)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQueueSize, err)
		}
		cfg.Jobs.QueueSize = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvJobTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvJobTimeout, err)
		}
		cfg.Jobs.Timeout = Duration{d}
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("server config missing addr")
	}
	if cfg.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server max_upload_mb must be positive")
	}
	if cfg.Jobs.Workers < 1 {
		return fmt.Errorf("jobs workers must be at least 1, got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.QueueSize < 1 {
		return fmt.Errorf("jobs queue_size must be at least 1, got %d", cfg.Jobs.QueueSize)
	}
	if cfg.Jobs.Timeout.Duration <= 0 {
		return fmt.Errorf("jobs timeout must be positive")
	}
	if cfg.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs max_attempts must be at least 1, got %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Jobs.Retention.Duration <= 0 {
		return fmt.Errorf("jobs retention must be positive")
	}
	if strings.TrimSpace(cfg.OpenAI.TranscriptionModel) == "" {
		return fmt.Errorf("openai config missing transcription_model")
	}
	if strings.TrimSpace(cfg.OpenAI.ChatModel) == "" {
		return fmt.Errorf("openai config missing chat_model")
	}
	if cfg.OpenAI.MaxRetries < 1 {
		return fmt.Errorf("openai max_retries must be at least 1, got %d", cfg.OpenAI.MaxRetries)
	}
	if strings.TrimSpace(cfg.Audio.WorkDir) == "" {
		return fmt.Errorf("audio config missing work_dir")
	}
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample_rate must be positive")
	}
	return nil
}

// ClampChunkSeconds bounds a chunk duration to [MinChunkSeconds, MaxChunkSeconds].
func ClampChunkSeconds(v int) int {
	return max(MinChunkSeconds, min(MaxChunkSeconds, v))
}

// ParseChunkSeconds parses and clamps raw; unparsable input yields the default.
func ParseChunkSeconds(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultChunkSeconds
	}
	return ClampChunkSeconds(v)
}
