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
	Worker        WorkerConfig
	STT           STTConfig
	SegmentLimits SegmentLimitsConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPPort  string
}

// WorkerConfig configures the transcription worker process.
type WorkerConfig struct {
	HelperPath     string // empty = default search order
	FileHelperPath string
	InputMode      string // programmatic | microphone
	PollInterval   time.Duration
	StopTimeout    time.Duration
	ResultBuffer   int
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider       string // worker | google | mock
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// SegmentLimitsConfig bounds a single utterance segment.
type SegmentLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

// KafkaConfig configures transcript event publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	PartialTopic string
	FinalTopic   string
	Principal    string
	BatchTimeout time.Duration
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Values that fail to
// parse fall back to their defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-speech-bridge")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:  envOrDefault("HTTP_PORT", "8080"),
		},
		Worker: WorkerConfig{
			HelperPath:     os.Getenv("WORKER_HELPER_PATH"),
			FileHelperPath: os.Getenv("WORKER_FILE_HELPER_PATH"),
			InputMode:      envOrDefault("WORKER_INPUT_MODE", "programmatic"),
			PollInterval:   envOrDefaultDuration("WORKER_POLL_INTERVAL", 5*time.Millisecond),
			StopTimeout:    envOrDefaultDuration("WORKER_STOP_TIMEOUT", 2*time.Second),
			ResultBuffer:   envOrDefaultInt("WORKER_RESULT_BUFFER", 64),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "worker"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: envOrDefaultInt64("SEGMENT_MAX_AUDIO_BYTES", 5*1024*1024),
			MaxDuration:   envOrDefaultDuration("SEGMENT_MAX_DURATION", 5*time.Minute),
			MaxPartials:   envOrDefaultInt("SEGMENT_MAX_PARTIALS", 500),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			PartialTopic: envOrDefault("KAFKA_TOPIC_PARTIAL", "transcripts.partial"),
			FinalTopic:   envOrDefault("KAFKA_TOPIC_FINAL", "transcripts.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
			BatchTimeout: envOrDefaultDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
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

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
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

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
