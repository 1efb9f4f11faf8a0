// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config resolves the handful of knobs the rest of this repo reads
// at startup (spec.md §6): the main branch name, whether public commits may
// be rewritten, whether rewritten commits keep their original timestamps,
// and the effects tree's quiet period. Resolution order follows the
// teacher's modules/zeta/config.Load: built-in defaults, overwritten by
// .branchless/config.toml if present, overwritten by environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	envMainBranchName            = "BRANCHLESS_MAIN_BRANCH"
	envForceRewritePublicCommits = "BRANCHLESS_FORCE_REWRITE_PUBLIC_COMMITS"
	envPreserveTimestamps        = "BRANCHLESS_PRESERVE_TIMESTAMPS"
	envEffectsQuietPeriod        = "BRANCHLESS_EFFECTS_QUIET_PERIOD_MS"
	defaultMainBranchName        = "master"
	defaultEffectsQuietPeriod    = 100 * time.Millisecond
)

// Config holds this repo's ambient settings (spec.md §3's notion of a
// "public" commit depends on Core.MainBranchName; §4.4's
// ForceRewritePublicCommits gate and §4.6's PreserveTimestamps replay
// default both live here; Effects.QuietPeriodMS is resolved here and
// returned by QuietPeriod, but modules/effects does not read it and uses its
// own fixed quiet period and render tick).
type Config struct {
	Core    Core    `toml:"core,omitempty"`
	Effects Effects `toml:"effects,omitempty"`
}

type Core struct {
	MainBranchName            string `toml:"mainBranchName,omitempty"`
	ForceRewritePublicCommits bool   `toml:"forceRewritePublicCommits,omitempty"`
	PreserveTimestamps        bool   `toml:"preserveTimestamps,omitempty"`
}

type Effects struct {
	QuietPeriodMS int `toml:"quietPeriodMs,omitzero"`
}

func overwriteString(a, b string) string {
	if len(b) != 0 {
		return b
	}
	return a
}

// Overwrite merges o's explicitly-set fields onto c, the way the teacher's
// Config.Overwrite layers a more specific config file over a less specific
// one. Booleans have no "unset" toml representation, so o always wins for
// them; a caller building a layer from environment variables only sets the
// fields it found present.
func (c *Config) Overwrite(o *Config) {
	c.Core.MainBranchName = overwriteString(c.Core.MainBranchName, o.Core.MainBranchName)
	c.Core.ForceRewritePublicCommits = o.Core.ForceRewritePublicCommits
	c.Core.PreserveTimestamps = o.Core.PreserveTimestamps
	if o.Effects.QuietPeriodMS > 0 {
		c.Effects.QuietPeriodMS = o.Effects.QuietPeriodMS
	}
}

func defaults() Config {
	return Config{
		Core: Core{MainBranchName: defaultMainBranchName},
		Effects: Effects{QuietPeriodMS: int(defaultEffectsQuietPeriod / time.Millisecond)},
	}
}

// loadFile decodes path into a Config, treating a missing file as an empty
// (no-op) layer rather than an error.
func loadFile(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// fromEnv builds a Config layer by copying base and replacing whichever of
// the four environment variables this process actually has set, so
// Overwrite leaves the fields whose variables are absent as base had them.
func fromEnv(base Config) Config {
	cfg := base
	if v, ok := os.LookupEnv(envMainBranchName); ok {
		cfg.Core.MainBranchName = v
	}
	if v, ok := os.LookupEnv(envForceRewritePublicCommits); ok {
		cfg.Core.ForceRewritePublicCommits, _ = strconv.ParseBool(v)
	}
	if v, ok := os.LookupEnv(envPreserveTimestamps); ok {
		cfg.Core.PreserveTimestamps, _ = strconv.ParseBool(v)
	}
	if v, ok := os.LookupEnv(envEffectsQuietPeriod); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Effects.QuietPeriodMS = ms
		}
	}
	return cfg
}

// Load resolves the effective Config for repoRoot: defaults, overwritten by
// <repoRoot>/.branchless/config.toml if present, overwritten by environment
// variables.
func Load(repoRoot string) (*Config, error) {
	cfg := defaults()
	fileLayer, err := loadFile(filepath.Join(repoRoot, ".branchless", "config.toml"))
	if err != nil {
		return nil, err
	}
	cfg.Overwrite(&fileLayer)
	envLayer := fromEnv(cfg)
	cfg.Overwrite(&envLayer)
	return &cfg, nil
}

// QuietPeriod returns Effects.QuietPeriodMS as a time.Duration.
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.Effects.QuietPeriodMS) * time.Millisecond
}
