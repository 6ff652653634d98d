// This file is part of probefinder.
//
// probefinder is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// probefinder is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with probefinder. If not, see <https://www.gnu.org/licenses/>.

// Package config builds the read-only Config value threaded through every
// probe.Resolver entry point, merging defaults, an optional YAML file, and
// PROBEFINDER_-prefixed environment variables.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/jetsetilly/probefinder/logger"
)

const (
	defaultMaxProbes = 128
	defaultLogCap    = 512
	envPrefix        = "PROBEFINDER"
)

// Config is the single injected context passed read-only into every
// probe.Resolver entry point; none of the algorithm packages read
// process-global state.
type Config struct {
	SourcePrefix string
	MaxProbes    int
	RegisterName func(n int) (string, bool)
	Log          *logger.Log
}

// Default returns the zero-prefix, 128-cap configuration with a 512-entry
// in-memory logger that keeps warnings and errors, and no register table. Callers normally set RegisterName themselves
// before use, since it is architecture-specific and never loaded from file
// or environment.
func Default() Config {
	return Config{
		MaxProbes: defaultMaxProbes,
		Log:       logger.NewLogger(defaultLogCap, logger.Warning),
	}
}

// Load merges defaults, an optional YAML file at path, and
// PROBEFINDER_-prefixed environment variables (eg. PROBEFINDER_MAXPROBES)
// using viper, in that precedence order (environment wins).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("sourceprefix", "")
	v.SetDefault("maxprobes", defaultMaxProbes)
	v.SetDefault("logcapacity", defaultLogCap)
	v.SetDefault("logminimum", int(logger.Warning))

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	cfg := Config{
		SourcePrefix: v.GetString("sourceprefix"),
		MaxProbes:    v.GetInt("maxprobes"),
		Log:          logger.NewLogger(v.GetInt("logcapacity"), logger.Severity(v.GetInt("logminimum"))),
	}

	return cfg, nil
}
