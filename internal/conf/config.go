// Package conf loads and holds the player configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// PlayerSettings configures the playback engine.
type PlayerSettings struct {
	BufferChunks     int     `mapstructure:"bufferchunks"`     // ring buffer size, clamped to [3,30]
	Output           string  `mapstructure:"output"`           // preferred sink plugin, "" selects by priority
	SoftVol          bool    `mapstructure:"softvol"`          // apply volume in software
	SoftVolLeft      int     `mapstructure:"softvolleft"`      // persisted soft volume 0-100
	SoftVolRight     int     `mapstructure:"softvolright"`     // persisted soft volume 0-100
	ReplayGain       string  `mapstructure:"replaygain"`       // "off", "track" or "album"
	ReplayGainLimit  bool    `mapstructure:"replaygainlimit"`  // cap scale at 1/peak
	ReplayGainPreamp float64 `mapstructure:"replaygainpreamp"` // dB added before the peak cap
	Continue         bool    `mapstructure:"continue"`         // advance to the next track at EOF
}

// Settings is the root configuration.
type Settings struct {
	Debug  bool                         `mapstructure:"debug"`
	Player PlayerSettings               `mapstructure:"player"`
	Input  map[string]map[string]string `mapstructure:"input"`  // per decoder plugin options
	Output map[string]map[string]string `mapstructure:"output"` // per sink plugin options
}

var (
	settings *Settings
	once     sync.Once
)

// Load reads canto.yaml from the config search paths and returns the
// settings. Missing files are not an error; defaults apply.
func Load() (*Settings, error) {
	var loadErr error
	once.Do(func() {
		settings = &Settings{}
		if err := initViper(); err != nil {
			loadErr = fmt.Errorf("error initializing viper: %w", err)
			return
		}
		if err := viper.Unmarshal(settings); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
		}
	})
	return settings, loadErr
}

// Setting returns the loaded settings, loading defaults on first use.
func Setting() *Settings {
	s, err := Load()
	if err != nil {
		return &Settings{}
	}
	return s
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("canto")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("canto")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file, defaults are in effect.
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for canto.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return []string{"."}, nil
	}
	return []string{
		filepath.Join(configDir, "canto"),
		".",
	}, nil
}
