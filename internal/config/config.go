// Package config loads Conversation Bus configuration from the environment
// (with .env support) the same way manifold's internal/config does: env vars
// win, an optional YAML file supplies structured sub-config, and defaults are
// applied last for anything still unset.
package config

import "time"

// LedgerConfig controls the durable message log (C1).
type LedgerConfig struct {
	DBPath          string        `yaml:"db_path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	WriteLockWait   time.Duration `yaml:"write_lock_wait"`
}

// ClaimStoreConfig controls the TTL exclusive claim store (C3).
type ClaimStoreConfig struct {
	Backend    string        `yaml:"backend"` // "sqlite" or "redis"
	DBPath     string        `yaml:"db_path"`
	RedisAddr  string        `yaml:"redis_addr"`
	TTL        time.Duration `yaml:"ttl"`
	SweepEvery time.Duration `yaml:"sweep_every"`
}

// ActiveModeConfig controls the active-mode registry (C4).
type ActiveModeConfig struct {
	DBPath       string        `yaml:"db_path"`
	Timeout      time.Duration `yaml:"timeout"`
	ReaperPeriod time.Duration `yaml:"reaper_period"`
}

// DebounceConfig controls C5's adaptive batching defaults.
type DebounceConfig struct {
	Initial             time.Duration `yaml:"initial"`
	HumanInitial        time.Duration `yaml:"human_initial"`
	RapidThreshold      time.Duration `yaml:"rapid_threshold"`
	Increment           time.Duration `yaml:"increment"`
	Max                 time.Duration `yaml:"max"`
	HumanPresenceWindow time.Duration `yaml:"human_presence_window"`
}

// InvokerConfig controls the worker invoker (C6).
type InvokerConfig struct {
	Provider        string        `yaml:"provider"` // "openai", "anthropic", "genai", "subprocess"
	Command         string        `yaml:"command"`
	Model           string        `yaml:"model"`
	OpenAIKey       string        `yaml:"-"`
	AnthropicKey    string        `yaml:"-"`
	GenAIKey        string        `yaml:"-"`
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxContextToken int           `yaml:"max_context_tokens"`
	MaxTurns        int           `yaml:"max_turns"`
	MaxIdle         time.Duration `yaml:"max_idle"`
	StartupPrompt   string        `yaml:"startup_prompt"`
	DiagnosticsDir  string        `yaml:"diagnostics_dir"`
}

// AnchorVectorConfig controls the anchors layer's vector backend (C2/L2).
type AnchorVectorConfig struct {
	Backend   string `yaml:"backend"` // "qdrant" or "sqvect"
	QdrantURL string `yaml:"qdrant_url"`
	SqvectDB  string `yaml:"sqvect_db"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	EmbedModel string `yaml:"embed_model"`
}

// GraphConfig controls the graph layer's backend choice (C2/L3).
type GraphConfig struct {
	Backend  string `yaml:"backend"` // "neo4j" or "http"
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	HTTPBase string `yaml:"http_base"`
}

// MemoryConfig bundles the four-layer memory router's per-layer config.
type MemoryConfig struct {
	AnchorsDir     string             `yaml:"anchors_dir"`
	CrystalsDir    string             `yaml:"crystals_dir"`
	CrystalWindow  int                `yaml:"crystal_window"`
	Anchors        AnchorVectorConfig `yaml:"anchors"`
	Graph          GraphConfig        `yaml:"graph"`
	LayerTimeout   time.Duration      `yaml:"layer_timeout"`
}

// ChatFabricConfig controls C8's Postgres store and websocket listener.
type ChatFabricConfig struct {
	DSN            string        `yaml:"dsn"`
	ListenAddr     string        `yaml:"listen_addr"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHistoryPage int           `yaml:"max_history_page"`
}

// TokenGateConfig controls C9.
type TokenGateConfig struct {
	EntityPath  string `yaml:"entity_path"`
	MasterToken string `yaml:"-"`
	Strict      bool   `yaml:"strict"`
}

// KafkaConfig controls the optional external channel ingestion adapter.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

// BackupConfig controls the optional periodic ledger snapshot ticker. Off
// by default: a daemon only backs up when Dir is set.
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
}

// ObsConfig controls logging/tracing ambient wiring.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Config is the root configuration object for cmd/daemon and cmd/mcpgateway.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	SelfName string `yaml:"self_name"`

	Ledger     LedgerConfig     `yaml:"ledger"`
	Claims     ClaimStoreConfig `yaml:"claims"`
	ActiveMode ActiveModeConfig `yaml:"active_mode"`
	Debounce   DebounceConfig   `yaml:"debounce"`
	Invoker    InvokerConfig    `yaml:"invoker"`
	Memory     MemoryConfig     `yaml:"memory"`
	ChatFabric ChatFabricConfig `yaml:"chat_fabric"`
	TokenGate  TokenGateConfig  `yaml:"token_gate"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Backup     BackupConfig     `yaml:"backup"`
	Obs        ObsConfig        `yaml:"obs"`
}
