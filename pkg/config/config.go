// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the .elenchus/project.yaml project configuration,
// in a config-struct-plus-env-override layout.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".elenchus"
	DefaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// ModeConfig overrides the per-mode minimums of the convergence evaluator
// Zero values mean "use the mode's built-in default".
type ModeConfig struct {
	MinRounds            int `yaml:"min_rounds,omitempty"`
	StableRoundsRequired int `yaml:"stable_rounds_required,omitempty"`
}

// MediatorConfig tunes the dependency graph and mediator.
type MediatorConfig struct {
	CriticalImportanceThreshold int `yaml:"critical_importance_threshold"` // default 3
	RippleMaxDepth              int `yaml:"ripple_max_depth"`              // default 3
	MaxCallersTracked           int `yaml:"max_callers_tracked"`           // default 10
	MaxDependenciesTracked      int `yaml:"max_dependencies_tracked"`      // default 5
}

// CacheConfig tunes the verification result cache.
type CacheConfig struct {
	TTLSeconds    int64   `yaml:"ttl_seconds"`    // default 86400
	DecayRatePerH float64 `yaml:"decay_rate_per_hour"` // default 0.02
	MinConfidence float64 `yaml:"min_confidence"` // default 0.5
	MaxEntries    int     `yaml:"max_entries"`    // default 10000
	WatchFiles    bool    `yaml:"watch_files"`    // enable fsnotify proactive invalidation
}

// PipelineConfig tunes the tiered verification pipeline.
type PipelineConfig struct {
	MaxTotalTokens          int64    `yaml:"max_total_tokens"`
	EnforceTokenBudget      bool     `yaml:"enforce_token_budget"`
	QualityFirst            bool     `yaml:"quality_first"`
	AlwaysExhaustivePattern []string `yaml:"always_exhaustive_patterns"`
}

// SamplingConfig tunes statistical file sampling.
type SamplingConfig struct {
	RatePercent          float64  `yaml:"rate_percent"` // default 10
	MinSamples           int      `yaml:"min_samples"`
	MaxSamples           int      `yaml:"max_samples"`
	Strategy             string   `yaml:"strategy"` // UNIFORM|RISK_WEIGHTED|CHANGE_WEIGHTED|DEPENDENCY_WEIGHTED
	Seed                 int64    `yaml:"seed"`
	HistoricalBoost      float64  `yaml:"historical_boost"` // default 1.5
	NeverSamplePatterns  []string `yaml:"never_sample_patterns"`
	AlwaysSamplePatterns []string `yaml:"always_sample_patterns"`
}

// SafeguardsConfig tunes the safeguards coordinator.
type SafeguardsConfig struct {
	Strict                      bool     `yaml:"strict"`
	MinimumAcceptableConfidence float64  `yaml:"minimum_acceptable_confidence"`
	IncrementalThreshold        int      `yaml:"incremental_threshold"`        // count of incremental runs before forcing full
	OptimizedIncrementalThresh  int      `yaml:"optimized_incremental_threshold"`
	MaxHoursSinceFull           float64  `yaml:"max_hours_since_full"`
	ExtendedAlwaysFullPatterns  []string `yaml:"extended_always_full_patterns"`
	RecentMissWindowDays        int      `yaml:"recent_miss_window_days"` // default 7
	RecentMissThreshold         int      `yaml:"recent_miss_threshold"`   // default 3
}

// Config is the full .elenchus/project.yaml document.
type Config struct {
	Version   string                    `yaml:"version"`
	DataDir   string                    `yaml:"data_dir"`
	MaxRounds int                       `yaml:"max_rounds"`
	Modes     map[string]ModeConfig     `yaml:"modes,omitempty"`
	Mediator  MediatorConfig            `yaml:"mediator"`
	Cache     CacheConfig               `yaml:"cache"`
	Pipeline  PipelineConfig            `yaml:"pipeline"`
	Sampling  SamplingConfig            `yaml:"sampling"`
	Safeguards SafeguardsConfig         `yaml:"safeguards"`
	BaselineHistoryLimit int            `yaml:"baseline_history_limit"` // default 10
}

// DefaultConfig returns the baseline configuration, using dataDir if
// non-empty or a sensible default otherwise.
func DefaultConfig(dataDir string) *Config {
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".elenchus", "data")
	}
	return &Config{
		Version:   configVersion,
		DataDir:   dataDir,
		MaxRounds: 20,
		Mediator: MediatorConfig{
			CriticalImportanceThreshold: 3,
			RippleMaxDepth:              3,
			MaxCallersTracked:           10,
			MaxDependenciesTracked:      5,
		},
		Cache: CacheConfig{
			TTLSeconds:    86400,
			DecayRatePerH: 0.02,
			MinConfidence: 0.5,
			MaxEntries:    10000,
		},
		Pipeline: PipelineConfig{
			MaxTotalTokens:     200000,
			EnforceTokenBudget: true,
			AlwaysExhaustivePattern: []string{
				"(?i)auth", "(?i)security", "(?i)crypto", "(?i)payment",
			},
		},
		Sampling: SamplingConfig{
			RatePercent:     10,
			MinSamples:      2,
			MaxSamples:      20,
			Strategy:        "RISK_WEIGHTED",
			HistoricalBoost: 1.5,
		},
		Safeguards: SafeguardsConfig{
			Strict:                     false,
			MinimumAcceptableConfidence: 0.7,
			IncrementalThreshold:       10,
			OptimizedIncrementalThresh: 5,
			MaxHoursSinceFull:          168,
			RecentMissWindowDays:       7,
			RecentMissThreshold:        3,
		},
		BaselineHistoryLimit: 10,
	}
}

// Path resolves the config file path: configPath if given, else
// ./.elenchus/project.yaml relative to the working directory.
func Path(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return filepath.Join(DefaultConfigDir, DefaultConfigFile), nil
}

// Load reads and parses the project config file.
func Load(configPath string) (*Config, error) {
	path, err := Path(configPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides lets ELENCHUS_DATA_DIR and ELENCHUS_MAX_ROUNDS override
// the file-based config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ELENCHUS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ELENCHUS_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRounds = n
		}
	}
}

// ModeDefaults returns (minRounds, stableRoundsRequired) for mode, applying
// config overrides over the built-in per-mode defaults.
func (c *Config) ModeDefaults(mode string) (minRounds, stableRounds int) {
	switch mode {
	case "fast-track":
		minRounds, stableRounds = 1, 1
	case "single-pass":
		minRounds, stableRounds = 1, 1
	default:
		minRounds, stableRounds = 3, 2
	}
	if c == nil || c.Modes == nil {
		return
	}
	if m, ok := c.Modes[mode]; ok {
		if m.MinRounds > 0 {
			minRounds = m.MinRounds
		}
		if m.StableRoundsRequired > 0 {
			stableRounds = m.StableRoundsRequired
		}
	}
	return
}
