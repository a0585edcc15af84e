// Package config loads converter settings from a TOML file, FRSTATE_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/statefile"
)

// Configuration keys.
const (
	KeyDTypeStyle  = "dtype_style"
	KeyLayerCount  = "layer_count"
	KeyStrictWidth = "strict_width"
	KeyFileMode    = "file_mode"
	KeyLogLevel    = "log_level"
)

const (
	configName = "frstate"
	configType = "toml"
	envPrefix  = "FRSTATE"
)

// Config holds the resolved settings.
type Config struct {
	DTypeStyle  statefile.DTypeStyle
	LayerCount  state.LayerCountMode
	StrictWidth bool
	FileMode    os.FileMode
	LogLevel    slog.Level
	File        string // Config file that was read, empty if none
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DTypeStyle:  statefile.DTypeStyleTorch,
		LayerCount:  state.LayerCountPattern,
		StrictWidth: true,
		FileMode:    0o644,
		LogLevel:    slog.LevelInfo,
	}
}

// SetDefaults registers the built-in values on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyDTypeStyle, string(d.DTypeStyle))
	v.SetDefault(KeyLayerCount, string(d.LayerCount))
	v.SetDefault(KeyStrictWidth, d.StrictWidth)
	v.SetDefault(KeyFileMode, fmt.Sprintf("%04o", uint32(d.FileMode)))
	v.SetDefault(KeyLogLevel, strings.ToLower(d.LogLevel.String()))
}

// Load reads the configuration into v and resolves it.
//
// When path is empty, frstate.toml is looked up in the working directory and
// then in the user config directory; a missing file is not an error. An
// explicit path must exist. Flags must already be bound to v.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, configName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return Config{}, err
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// FromViper resolves the settings currently held by v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DTypeStyle:  statefile.DTypeStyle(strings.ToLower(v.GetString(KeyDTypeStyle))),
		LayerCount:  state.LayerCountMode(strings.ToLower(v.GetString(KeyLayerCount))),
		StrictWidth: v.GetBool(KeyStrictWidth),
	}

	mode, err := ParseFileMode(v.GetString(KeyFileMode))
	if err != nil {
		return Config{}, err
	}
	cfg.FileMode = mode

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", KeyLogLevel, v.GetString(KeyLogLevel), err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseFileMode parses an octal permission string such as "0644" or "0o600".
func ParseFileMode(s string) (os.FileMode, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0o"), "0O")
	n, err := strconv.ParseUint(digits, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: want octal permissions", KeyFileMode, s)
	}
	mode := os.FileMode(n)
	if mode&^os.ModePerm != 0 {
		return 0, fmt.Errorf("invalid %s %q: only permission bits are allowed", KeyFileMode, s)
	}
	return mode, nil
}

// Validate checks that every setting has a known value.
func (c Config) Validate() error {
	if !c.DTypeStyle.Valid() {
		return fmt.Errorf("invalid %s %q: want torch or plain", KeyDTypeStyle, c.DTypeStyle)
	}
	switch c.LayerCount {
	case state.LayerCountPattern, state.LayerCountEntries:
	default:
		return fmt.Errorf("invalid %s %q: want pattern or entries", KeyLayerCount, c.LayerCount)
	}
	if c.FileMode == 0 {
		return fmt.Errorf("invalid %s: output would be unreadable", KeyFileMode)
	}
	return nil
}

// ExtractOptions returns the layer extraction settings.
func (c Config) ExtractOptions(logger *slog.Logger) state.Options {
	return state.Options{
		LayerCount:  c.LayerCount,
		StrictWidth: c.StrictWidth,
		Logger:      logger,
	}
}

// WriteOptions returns the state file writer settings.
func (c Config) WriteOptions() statefile.WriteOptions {
	return statefile.WriteOptions{
		Options:  statefile.Options{DTypeStyle: c.DTypeStyle},
		FileMode: c.FileMode,
	}
}
