package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NVPIPE_BITRATE=6000.
const EnvPrefix = "NVPIPE"

// Load reads settings from cfgFile (optional), then applies NVPIPE_*
// environment overrides on top of the defaults.
func Load(cfgFile string) (Settings, error) {
	v := newViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("nvpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

// FromMap builds Settings from opaque key/value pairs such as those handed
// over by a host application. Unknown keys are ignored; missing keys keep
// their defaults.
func FromMap(values map[string]any) (Settings, error) {
	v := newViper()
	if err := v.MergeConfigMap(values); err != nil {
		return Settings{}, fmt.Errorf("merge settings: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("bitrate", d.Bitrate)
	v.SetDefault("cqp", d.CQP)
	v.SetDefault("keyint_sec", d.KeyintSec)
	v.SetDefault("preset", string(d.Preset))
	v.SetDefault("profile", string(d.Profile))
	v.SetDefault("level", string(d.Level))
	v.SetDefault("rate_control", string(d.RateControl))
	v.SetDefault("2pass", d.TwoPass)
	v.SetDefault("temporal_aq", d.TemporalAQ)
	v.SetDefault("la", d.Lookahead)
	v.SetDefault("la_depth", d.LookaheadDepth)
	v.SetDefault("gpu", d.GPU)
	v.SetDefault("bf", d.BFrames)
	return v
}

func decode(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Normalize(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
