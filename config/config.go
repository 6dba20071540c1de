// Package config provides some utilities and structured types to load and
// access bot configuration
package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Configuration keys
const (
	TokenKey             = "token"             // Slack token, string value
	DebugKey             = "debug"             // Debug mode, boolean value
	StoragePathKey       = "storagePath"       // Directory holding the bot durable state, string value
	UserInfoCacheSizeKey = "userInfoCacheSize" // Size of the user info cache, int value (0 disables caching)
	TimeLocationKey      = "timeLocation"      // Time zone location for scheduled actions, string value
	PluginsKey           = "plugins"           // Root of per-plugin configurations
)

// Default values
const (
	defaultStoragePath  = "~/.coinscot"
	defaultTimeLocation = "Local"
	defaultCacheSize    = 100
)

// PluginConfig is a sub-tree of the bot configuration scoped to one plugin
type PluginConfig = viper.Viper

// NewViperWithDefaults creates a new viper instance with defaults set on it
func NewViperWithDefaults() (v *viper.Viper) {
	v = viper.New()
	v.SetDefault(DebugKey, false)
	v.SetDefault(StoragePathKey, defaultStoragePath)
	v.SetDefault(UserInfoCacheSizeKey, defaultCacheSize)
	v.SetDefault(TimeLocationKey, defaultTimeLocation)

	return v
}

// GetTimeLocation reads the TimeLocationKey and maps it to the associated
// time.Location, returning an error if the location value is invalid
func GetTimeLocation(v *viper.Viper) (timeLoc *time.Location, err error) {
	locationID := v.GetString(TimeLocationKey)

	return time.LoadLocation(locationID)
}

// GetPluginConfig returns the plugin configuration sub-tree for the named
// plugin, or an empty one if the configuration has none
func GetPluginConfig(v *viper.Viper, name string) (pc *PluginConfig) {
	pc = v.Sub(PluginsKey + "." + name)
	if pc == nil {
		pc = viper.New()
	}

	return pc
}

// GetIntList reads a key holding either a list or a comma-delimited string
// and returns it as a slice of ints
func GetIntList(v *viper.Viper, key string) (values []int) {
	raw := v.Get(key)
	if raw == nil {
		return nil
	}

	return cast.ToIntSlice(raw)
}
