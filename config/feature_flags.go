package config

import (
	"sort"
	"sync"

	"github.com/spf13/viper"
)

// Feature flag names. Each maps to the key features.<name> and the
// environment variable RECORDSYNC_FEATURES_<NAME>.
const (
	// Create students with dependents through the aggregate endpoint.
	FeatureAggregateCreate = "aggregate_create"
	// Expose the opaque CSV import.
	FeatureCSVUpload = "csv_upload"
	// Load a section on first read when its cache is empty.
	FeatureAutoLoad = "auto_load"
	// Publish and consume cross-instance change notices over Redis.
	FeatureChangeBroadcast = "change_broadcast"
	// Record every orchestrated write in PostgreSQL.
	FeatureWriteJournal = "write_journal"
)

var defaultFeatures = map[string]bool{
	FeatureAggregateCreate: true,
	FeatureCSVUpload:       true,
	FeatureAutoLoad:        true,
	FeatureChangeBroadcast: false,
	FeatureWriteJournal:    false,
}

// FeatureFlags is a concurrency-safe set of on/off toggles.
type FeatureFlags struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewFeatureFlags returns flags initialized to the defaults, with overrides
// applied on top.
func NewFeatureFlags(overrides map[string]bool) *FeatureFlags {
	ff := &FeatureFlags{flags: make(map[string]bool, len(defaultFeatures))}
	for name, on := range defaultFeatures {
		ff.flags[name] = on
	}
	for name, on := range overrides {
		ff.flags[name] = on
	}
	return ff
}

func loadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags(nil)
	for name := range defaultFeatures {
		ff.flags[name] = v.GetBool("features." + name)
	}
	return ff
}

// IsEnabled reports whether a feature is on. Unknown features are off. A nil
// receiver behaves like the defaults.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return defaultFeatures[name]
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.flags[name]
}

// Set toggles a feature at runtime.
func (ff *FeatureFlags) Set(name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.flags[name] = on
}

// Enabled lists the enabled features in sorted order.
func (ff *FeatureFlags) Enabled() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	var out []string
	for name, on := range ff.flags {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
