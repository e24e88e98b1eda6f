// Package config loads electric-moray process configuration from the
// environment.
package config

import (
	"time"

	"github.com/joyent/electric-moray/pkg/envutil"
)

// Config is the process configuration for the electric-moray server.
type Config struct {
	// DataDir is the storage directory. Ignored when InMemory is set.
	DataDir string

	// Address and Port are the HTTP listen parameters.
	Address string
	Port    int

	// InMemory runs the storage engine without disk persistence.
	InMemory bool

	// SyncWrites makes the engine fsync every single-object write.
	SyncWrites bool

	// Serializer selects the object encoding ("msgpack" or "gob").
	Serializer string

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from EMORAY_* environment variables, falling back
// to defaults for anything unset.
func FromEnv() *Config {
	return &Config{
		DataDir:         envutil.Get("EMORAY_DATA_DIR", "./data"),
		Address:         envutil.Get("EMORAY_ADDRESS", "127.0.0.1"),
		Port:            envutil.GetInt("EMORAY_PORT", 2020),
		InMemory:        envutil.GetBool("EMORAY_IN_MEMORY", false),
		SyncWrites:      envutil.GetBool("EMORAY_SYNC_WRITES", false),
		Serializer:      envutil.Get("EMORAY_SERIALIZER", "msgpack"),
		ShutdownTimeout: envutil.GetDuration("EMORAY_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
