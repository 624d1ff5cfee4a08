package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration the way manifold's internal/config.Load does:
// .env via Overload (repo-local config deterministically wins over whatever
// is already in the process environment), then canonical env vars per
// spec §6, then an optional YAML file for structured sub-config, then
// defaults for anything still unset.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.HTTPAddr = firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8088")
	cfg.SelfName = firstNonEmpty(os.Getenv("SELF_NAME"), "bot")

	cfg.Ledger.DBPath = firstNonEmpty(os.Getenv("LEDGER_DB_PATH"), "./data/ledger.db")
	cfg.Ledger.BusyTimeout = durationEnv("LEDGER_BUSY_TIMEOUT", 5*time.Second)
	cfg.Ledger.WriteLockWait = durationEnv("LEDGER_WRITE_LOCK_WAIT", 5*time.Second)

	cfg.Claims.Backend = firstNonEmpty(os.Getenv("CLAIM_BACKEND"), "sqlite")
	cfg.Claims.DBPath = firstNonEmpty(os.Getenv("CLAIM_DB_PATH"), "./data/claims.db")
	cfg.Claims.RedisAddr = os.Getenv("CLAIM_REDIS_ADDR")
	cfg.Claims.TTL = durationEnv("CLAIM_TTL_SECONDS_DUR", 0)
	if cfg.Claims.TTL == 0 {
		cfg.Claims.TTL = secondsEnv("CLAIM_TTL_SECONDS", 30*time.Second)
	}
	cfg.Claims.SweepEvery = secondsEnv("CLAIM_SWEEP_SECONDS", time.Second)

	cfg.ActiveMode.DBPath = firstNonEmpty(os.Getenv("ACTIVE_MODE_DB_PATH"), "./data/active_mode.db")
	cfg.ActiveMode.Timeout = minutesEnv("ACTIVE_MODE_TIMEOUT_MINUTES", 10*time.Minute)
	cfg.ActiveMode.ReaperPeriod = time.Second

	cfg.Debounce.Initial = secondsEnv("DEBOUNCE_INITIAL_SECONDS", 1500*time.Millisecond)
	cfg.Debounce.HumanInitial = secondsEnv("DEBOUNCE_HUMAN_INITIAL_SECONDS", 5*time.Second)
	cfg.Debounce.RapidThreshold = secondsEnv("DEBOUNCE_RAPID_THRESHOLD_SECONDS", 2*time.Second)
	cfg.Debounce.Increment = secondsEnv("DEBOUNCE_INCREMENT_SECONDS", time.Second)
	cfg.Debounce.Max = secondsEnv("DEBOUNCE_MAX_SECONDS", 10*time.Second)
	cfg.Debounce.HumanPresenceWindow = secondsEnv("DEBOUNCE_PRESENCE_WINDOW_SECONDS", 300*time.Second)

	cfg.Invoker.Provider = firstNonEmpty(os.Getenv("INVOKER_PROVIDER"), "openai")
	cfg.Invoker.Command = os.Getenv("INVOKER_COMMAND")
	cfg.Invoker.Model = firstNonEmpty(os.Getenv("INVOKER_MODEL"), "gpt-4o-mini")
	cfg.Invoker.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Invoker.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Invoker.GenAIKey = os.Getenv("GOOGLE_GENAI_API_KEY")
	cfg.Invoker.BaseURL = os.Getenv("INVOKER_BASE_URL")
	cfg.Invoker.Timeout = secondsEnv("INVOKER_TIMEOUT_SECONDS", 180*time.Second)
	cfg.Invoker.MaxContextToken = intEnv("INVOKER_MAX_CONTEXT_TOKENS", 32000)
	cfg.Invoker.MaxTurns = intEnv("INVOKER_MAX_TURNS", 200)
	cfg.Invoker.MaxIdle = minutesEnv("INVOKER_MAX_IDLE_MINUTES", 30*time.Minute)
	cfg.Invoker.StartupPrompt = firstNonEmpty(os.Getenv("INVOKER_STARTUP_PROMPT"), "You are a helpful assistant participating in an ongoing group conversation.")
	cfg.Invoker.DiagnosticsDir = firstNonEmpty(os.Getenv("INVOKER_DIAGNOSTICS_DIR"), "./data/diagnostics")

	cfg.Memory.AnchorsDir = firstNonEmpty(os.Getenv("ANCHORS_DIR"), "./data/anchors")
	cfg.Memory.CrystalsDir = firstNonEmpty(os.Getenv("CRYSTALS_DIR"), "./data/crystals")
	cfg.Memory.CrystalWindow = intEnv("CRYSTALLIZATION_TURN_THRESHOLD", 4)
	cfg.Memory.LayerTimeout = secondsEnv("MEMORY_LAYER_TIMEOUT_SECONDS", 10*time.Second)
	cfg.Memory.Anchors.Backend = firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "sqvect")
	cfg.Memory.Anchors.QdrantURL = os.Getenv("QDRANT_URL")
	cfg.Memory.Anchors.SqvectDB = firstNonEmpty(os.Getenv("SQVECT_DB_PATH"), "./data/anchors.sqvect")
	cfg.Memory.Anchors.Collection = firstNonEmpty(os.Getenv("VECTOR_COLLECTION"), "anchors")
	cfg.Memory.Anchors.Dimensions = intEnv("VECTOR_DIMENSIONS", 1536)
	cfg.Memory.Anchors.EmbedModel = firstNonEmpty(os.Getenv("EMBED_MODEL"), "text-embedding-3-small")
	cfg.Memory.Graph.Backend = firstNonEmpty(os.Getenv("GRAPH_BACKEND"), "neo4j")
	cfg.Memory.Graph.URI = os.Getenv("GRAPH_URI")
	cfg.Memory.Graph.Username = os.Getenv("GRAPH_USERNAME")
	cfg.Memory.Graph.Password = os.Getenv("GRAPH_PASSWORD")
	cfg.Memory.Graph.HTTPBase = os.Getenv("GRAPH_HTTP_BASE")

	cfg.ChatFabric.DSN = firstNonEmpty(os.Getenv("CHAT_DSN"), os.Getenv("DATABASE_URL"))
	cfg.ChatFabric.ListenAddr = firstNonEmpty(os.Getenv("CHAT_LISTEN_ADDR"), ":8089")
	cfg.ChatFabric.WriteTimeout = secondsEnv("CHAT_WRITE_TIMEOUT_SECONDS", 10*time.Second)
	cfg.ChatFabric.MaxHistoryPage = intEnv("CHAT_MAX_HISTORY_PAGE", 200)

	cfg.TokenGate.EntityPath = firstNonEmpty(os.Getenv("ENTITY_PATH"), "./data/entity_token")
	cfg.TokenGate.MasterToken = os.Getenv("PPS_MASTER_TOKEN")
	cfg.TokenGate.Strict = boolEnv("PPS_STRICT_AUTH", false)

	cfg.Kafka.Brokers = firstNonEmpty(os.Getenv("KAFKA_BROKERS"), os.Getenv("KAFKA_BOOTSTRAP_SERVERS"))
	cfg.Kafka.Topic = os.Getenv("KAFKA_CHANNEL_TOPIC")
	cfg.Kafka.GroupID = firstNonEmpty(os.Getenv("KAFKA_GROUP_ID"), "convbus")

	// Off by default: a daemon only runs the backup ticker when BACKUP_DIR
	// is set.
	cfg.Backup.Dir = os.Getenv("BACKUP_DIR")
	cfg.Backup.Interval = durationEnv("BACKUP_INTERVAL", time.Hour)
	cfg.Backup.Keep = intEnv("BACKUP_KEEP", 24)

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "convbus")
	cfg.Obs.ServiceVersion = os.Getenv("SERVICE_VERSION")
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("ENVIRONMENT"), "dev")
	cfg.Obs.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")
	cfg.Obs.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if path := strings.TrimSpace(os.Getenv("CONVBUS_CONFIG")); path != "" {
		if err := mergeYAML(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if cfg.Invoker.Provider == "subprocess" && cfg.Invoker.Command == "" {
		return Config{}, fmt.Errorf("INVOKER_COMMAND is required when INVOKER_PROVIDER=subprocess")
	}

	return cfg, nil
}

// mergeYAML overlays a YAML file onto defaults already computed by Load:
// env wins, YAML only fills structure. Only fields the YAML document sets
// explicitly are overwritten, by decoding straight into the
// already-populated struct.
func mergeYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolEnv(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func intEnv(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func secondsEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func minutesEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(f * float64(time.Minute))
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
