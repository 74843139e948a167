package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RoutingAtIssue   = "issue"
	RoutingAtArrival = "arrival"
)

type Config struct {
	Port string

	BackendDriver  string
	BackendURL     string
	BackendTimeout time.Duration
	GeminiAPIKey   string
	GeminiModel    string

	HistoryStore string
	DatabaseURL  string
	BoltPath     string

	STTURL          string
	CaptureTimeout  time.Duration
	ElevenLabsKey   string
	PreferredVoices []string
	VoiceLocale     string

	RoutingPolicy string
	PDFFontPath   string

	TelegramToken string
	DoctorChatID  int64

	LogLevel  string
	LogPretty bool
}

// Load reads an optional .env file and then the environment. Variables
// already present in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := Config{
		Port:            getenv("PORT", "8080"),
		BackendDriver:   getenv("BACKEND_DRIVER", "http"),
		BackendURL:      strings.TrimRight(getenv("BACKEND_URL", "http://127.0.0.1:8000"), "/"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getenv("GEMINI_MODEL", "gemini-2.0-flash"),
		HistoryStore:    getenv("HISTORY_STORE", "bolt"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BoltPath:        getenv("BOLT_PATH", "data/history.bolt"),
		STTURL:          lookupEnv("STT_URL", "http://localhost:8000/transcribe"),
		ElevenLabsKey:   os.Getenv("ELEVENLABS_API_KEY"),
		PreferredVoices: splitList(getenv("TTS_PREFERRED_VOICES", "Google US English,Microsoft Zira")),
		VoiceLocale:     getenv("VOICE_LOCALE", "en-US"),
		RoutingPolicy:   getenv("ROUTING_POLICY", RoutingAtIssue),
		PDFFontPath:     os.Getenv("PDF_FONT_PATH"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.BackendTimeout, err = durationEnv("BACKEND_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CaptureTimeout, err = durationEnv("CAPTURE_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("DOCTOR_CHAT_ID"); v != "" {
		if cfg.DoctorChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("DOCTOR_CHAT_ID: %w", err)
		}
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		if cfg.LogPretty, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("LOG_PRETTY: %w", err)
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.BackendDriver {
	case "http":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("BACKEND_DRIVER=gemini requires GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown BACKEND_DRIVER %q", c.BackendDriver)
	}
	switch c.HistoryStore {
	case "bolt", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("HISTORY_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown HISTORY_STORE %q", c.HistoryStore)
	}
	if c.RoutingPolicy != RoutingAtIssue && c.RoutingPolicy != RoutingAtArrival {
		return fmt.Errorf("unknown ROUTING_POLICY %q", c.RoutingPolicy)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// lookupEnv is getenv for settings where an explicitly empty value means
// "disabled" rather than "use the default".
func lookupEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
