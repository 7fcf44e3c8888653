package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Dictation   DictationConfig `yaml:"dictation"`
	Whisper     WhisperConfig   `yaml:"whisper"`
	Sarvam      SarvamConfig    `yaml:"sarvam"`
	Local       LocalConfig     `yaml:"local"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxTranscripts int    `yaml:"max_transcripts"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type DictationConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DefaultModel    string `yaml:"default_model"`
	KeepModelInRAM  bool   `yaml:"keep_model_in_ram"`
	PublishInterim  bool   `yaml:"publish_interim"`
	FinalTimeoutMS  int    `yaml:"final_timeout_ms"`
	WebSocket       bool   `yaml:"websocket"`
	MaxMessageBytes int    `yaml:"max_message_bytes"`
}

// WhisperConfig configures the OpenAI Whisper-style cloud backend.
type WhisperConfig struct {
	APIKey               string `yaml:"api_key"`
	Endpoint             string `yaml:"endpoint"`
	Model                string `yaml:"model"`
	Language             string `yaml:"language"`
	Prompt               string `yaml:"prompt"`
	TransliterateToRoman bool   `yaml:"transliterate_to_roman"`
}

// SarvamConfig configures the Sarvam-style cloud backend.
type SarvamConfig struct {
	APIKey       string `yaml:"api_key"`
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	Mode         string `yaml:"mode"`
	LanguageCode string `yaml:"language_code"`
	Locale       string `yaml:"locale"`
}

// LocalConfig configures command-backed on-device models.
type LocalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ModelsDir string `yaml:"models_dir"`
	Command   string `yaml:"command"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

const defaultWhisperPrompt = "Yeh ek Hindi sentence hai jo Roman script mein likha gaya hai. Main aapko batana chahta hoon ki aaj mausam bahut achha hai."

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8085,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:           "./data/loqa-dictate.db",
			RetentionMode:  "session",
			RetentionDays:  30,
			MaxTranscripts: 10000,
		},
		Dictation: DictationConfig{
			Enabled:         true,
			FinalTimeoutMS:  150000,
			WebSocket:       true,
			MaxMessageBytes: 1 << 20,
		},
		Whisper: WhisperConfig{
			Endpoint: "https://api.openai.com/v1/audio/transcriptions",
			Model:    "whisper-1",
			Prompt:   defaultWhisperPrompt,
		},
		Sarvam: SarvamConfig{
			Endpoint:     "https://api.sarvam.ai/speech-to-text",
			Model:        "saaras:v3",
			Mode:         "translit",
			LanguageCode: "unknown",
			Locale:       "en-IN",
		},
		Local: LocalConfig{
			Enabled:   false,
			ModelsDir: "./models",
			TimeoutMS: 60000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Holder publishes the current configuration to readers that must observe
// reloads, such as providers re-checking credentials.
type Holder struct {
	v atomic.Pointer[Config]
}

func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.Store(cfg)
	return h
}

func (h *Holder) Load() Config {
	return *h.v.Load()
}

func (h *Holder) Store(cfg Config) {
	h.v.Store(&cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LOQA_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "LOQA_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "LOQA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxTranscripts, "LOQA_STORE_MAX_TRANSCRIPTS")
	overrideBool(&cfg.Store.VacuumOnStart, "LOQA_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Dictation.Enabled, "LOQA_DICTATION_ENABLED")
	overrideString(&cfg.Dictation.DefaultModel, "LOQA_DICTATION_DEFAULT_MODEL")
	overrideBool(&cfg.Dictation.KeepModelInRAM, "LOQA_DICTATION_KEEP_MODEL_IN_RAM")
	overrideBool(&cfg.Dictation.PublishInterim, "LOQA_DICTATION_PUBLISH_INTERIM")
	overrideInt(&cfg.Dictation.FinalTimeoutMS, "LOQA_DICTATION_FINAL_TIMEOUT_MS")
	overrideBool(&cfg.Dictation.WebSocket, "LOQA_DICTATION_WEBSOCKET")
	overrideString(&cfg.Whisper.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.Whisper.APIKey, "LOQA_WHISPER_API_KEY")
	overrideString(&cfg.Whisper.Endpoint, "LOQA_WHISPER_ENDPOINT")
	overrideString(&cfg.Whisper.Model, "LOQA_WHISPER_MODEL")
	overrideString(&cfg.Whisper.Language, "LOQA_WHISPER_LANGUAGE")
	overrideString(&cfg.Whisper.Prompt, "LOQA_WHISPER_PROMPT")
	overrideBool(&cfg.Whisper.TransliterateToRoman, "LOQA_WHISPER_TRANSLITERATE")
	overrideString(&cfg.Sarvam.APIKey, "SARVAM_API_SUBSCRIPTION_KEY")
	overrideString(&cfg.Sarvam.APIKey, "LOQA_SARVAM_API_KEY")
	overrideString(&cfg.Sarvam.Endpoint, "LOQA_SARVAM_ENDPOINT")
	overrideString(&cfg.Sarvam.Model, "LOQA_SARVAM_MODEL")
	overrideString(&cfg.Sarvam.Mode, "LOQA_SARVAM_MODE")
	overrideString(&cfg.Sarvam.LanguageCode, "LOQA_SARVAM_LANGUAGE_CODE")
	overrideString(&cfg.Sarvam.Locale, "LOQA_SARVAM_LOCALE")
	overrideBool(&cfg.Local.Enabled, "LOQA_LOCAL_ENABLED")
	overrideString(&cfg.Local.ModelsDir, "LOQA_LOCAL_MODELS_DIR")
	overrideString(&cfg.Local.Command, "LOQA_LOCAL_COMMAND")
	overrideString(&cfg.Local.Language, "LOQA_LOCAL_LANGUAGE")
	overrideInt(&cfg.Local.TimeoutMS, "LOQA_LOCAL_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Dictation.Enabled && cfg.Dictation.FinalTimeoutMS <= 0 {
		return errors.New("dictation.final_timeout_ms must be positive")
	}
	if cfg.Whisper.Endpoint == "" || cfg.Whisper.Model == "" {
		return errors.New("whisper.endpoint and whisper.model must not be empty")
	}
	if cfg.Sarvam.Endpoint == "" || cfg.Sarvam.Model == "" {
		return errors.New("sarvam.endpoint and sarvam.model must not be empty")
	}
	if cfg.Sarvam.Mode == "" {
		return errors.New("sarvam.mode must not be empty")
	}
	if cfg.Local.Enabled {
		if cfg.Local.Command == "" {
			return errors.New("local.command must be set when local models are enabled")
		}
		if cfg.Local.ModelsDir == "" {
			return errors.New("local.models_dir must not be empty when local models are enabled")
		}
	}
	return nil
}
