package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration, read from the environment.
type Configuration struct {
	Service       ServiceConfig
	Voice         VoiceConfig
	STT           STTConfig
	Quiz          QuizConfig
	Submission    SubmissionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsAddr string
}

// VoiceConfig holds the defaults applied to every session.
type VoiceConfig struct {
	Locale              string
	Rate                float64
	PromptRate          float64
	ContinuousDictation bool
	HandshakeTimeout    time.Duration
}

// STTConfig selects server-side recognition for devices that stream audio.
type STTConfig struct {
	Provider       string // remote, google
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

type QuizConfig struct {
	BankPath string // empty uses the built-in bank
}

type SubmissionConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicTurns   string
	TopicResults string
	Principal    string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration. Unparseable values fall back to defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-engine")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Voice: VoiceConfig{
			Locale:              envOrDefault("VOICE_LOCALE", "en-US"),
			Rate:                envOrDefaultFloat("VOICE_RATE", 1.0),
			PromptRate:          envOrDefaultFloat("VOICE_PROMPT_RATE", 0.9),
			ContinuousDictation: envOrDefaultBool("VOICE_CONTINUOUS_DICTATION", true),
			HandshakeTimeout:    envOrDefaultDuration("VOICE_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "remote"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   int32(envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000)),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		Quiz: QuizConfig{
			BankPath: os.Getenv("QUIZ_BANK_PATH"),
		},
		Submission: SubmissionConfig{
			Enabled: envOrDefaultBool("SUBMISSION_ENABLED", false),
			BaseURL: envOrDefault("SUBMISSION_BASE_URL", "http://localhost:5000"),
			Timeout: envOrDefaultDuration("SUBMISSION_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			TopicTurns:   envOrDefault("KAFKA_TOPIC_TURNS", "voice.turn"),
			TopicResults: envOrDefault("KAFKA_TOPIC_RESULTS", "voice.result"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
