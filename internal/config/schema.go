package config

// Config is the top-level YAML structure.
type Config struct {
	Version  string       `yaml:"version"`
	Engine   EngineConf   `yaml:"engine"`
	Store    StoreConf    `yaml:"store"`
	Snapshot SnapshotConf `yaml:"snapshot"`
	Actors   []ActorDef   `yaml:"actors"`
	Carriers []CarrierDef `yaml:"carriers"`
}

// EngineConf holds tick loop and cache settings.
type EngineConf struct {
	TickMs         int `yaml:"tick_ms"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
	RuleCacheSize  int `yaml:"rule_cache_size"`
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"
	DriverSQL    = "sql"
)

// StoreConf selects where carriers are persisted. DSN is a file path for
// bolt and a URL for sql (sqlite://path or postgres://...).
type StoreConf struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SnapshotConf enables the compressed world snapshot written on shutdown.
type SnapshotConf struct {
	Path string `yaml:"path"` // "" = disabled
}

// ActorDef seeds an actor into the world.
type ActorDef struct {
	ID         string             `yaml:"id"`
	Type       string             `yaml:"type"`
	MaxHealth  float64            `yaml:"max_health"`
	Attributes map[string]float64 `yaml:"attributes"`
}

// CarrierDef seeds a carrier, with its affixes as serialized records.
type CarrierDef struct {
	Name        string                   `yaml:"name"`
	Type        string                   `yaml:"type"`
	Owner       string                   `yaml:"owner"`
	Attachments map[string]interface{}   `yaml:"attachments"`
	Affixes     []map[string]interface{} `yaml:"affixes"`
}
