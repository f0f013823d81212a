package types

import (
	"time"
)

type ConfigManager interface {
	LifecycleManager
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name         string              `yaml:"name" json:"name" validate:"required"`
	Version      string              `yaml:"version" json:"version" validate:"required"`
	Server       *ServerConfig       `yaml:"server" json:"server"`
	Logger       *LoggerConfig       `yaml:"logger" json:"logger" validate:"required"`
	Cache        *CacheConfig        `yaml:"cache" json:"cache" validate:"required"`
	PolicySource *PolicySourceConfig `yaml:"policy_source" json:"policy_source"`
	Preload      *PreloadConfig      `yaml:"preload" json:"preload"`
	Metrics      *MetricsConfig      `yaml:"metrics" json:"metrics"`
	Health       *HealthConfig       `yaml:"health" json:"health"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Memory          *MemoryTierConfig     `yaml:"memory" json:"memory" validate:"required"`
	Persistent      *PersistentTierConfig `yaml:"persistent" json:"persistent" validate:"required"`
	Compression     *CompressionConfig    `yaml:"compression" json:"compression" validate:"required"`
	ShutdownTimeout time.Duration         `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

type MemoryTierConfig struct {
	MaxItems int   `yaml:"max_items" json:"max_items" validate:"min=1"`
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes" validate:"min=1"`
}

type PersistentTierConfig struct {
	Type       string      `yaml:"type" json:"type" validate:"required,oneof=memory redis"`
	Capacity   int         `yaml:"capacity" json:"capacity" validate:"min=1"`
	EvictBatch int         `yaml:"evict_batch" json:"evict_batch" validate:"min=1"`
	Config     interface{} `yaml:"config" json:"config"`
}

type CompressionConfig struct {
	Algorithm string `yaml:"algorithm" json:"algorithm" validate:"required,oneof=br gzip deflate"`
	Level     int    `yaml:"level" json:"level" validate:"min=-1,max=11"`
	Threshold int    `yaml:"threshold" json:"threshold" validate:"min=0"`
}

type PolicySourceConfig struct {
	Type    string        `yaml:"type" json:"type" validate:"required,oneof=none file sqlite clover"`
	Path    string        `yaml:"path" json:"path" validate:"required_unless=Type none"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`
}

type PreloadConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Schedule    string   `yaml:"schedule" json:"schedule" validate:"required_if=Enabled true"`
	Timezone    string   `yaml:"timezone" json:"timezone"`
	EntityTypes []string `yaml:"entity_types" json:"entity_types"`
}

type MetricsConfig struct {
	Enabled         bool              `yaml:"enabled" json:"enabled"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	Path            string            `yaml:"path" json:"path"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type HealthConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}
