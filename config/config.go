// Package config defines the runtime configuration for the orchestration core.
//
// The loop-detection thresholds are empirical constants; they are exposed here
// as named, overridable settings rather than hard-coded literals so deployments
// can tune them. Overrides load from YAML and merge over Default().
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoopDetection holds the heuristics that abort a runaway tool-calling sequence.
type LoopDetection struct {
	// SimilarityThreshold is the minimum argument similarity (0..1) for two
	// calls to count as repeats of each other.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// PatternMinLength / PatternMaxLength bound the repeated sub-sequence scan.
	PatternMinLength int `yaml:"pattern_min_length"`
	PatternMaxLength int `yaml:"pattern_max_length"`

	// StreakWindow is how many trailing calls the same-tool streak scan inspects.
	StreakWindow int `yaml:"streak_window"`

	// StreakLimit caps consecutive calls to one tool; ExploratoryStreakLimit
	// applies instead for tools listed in ExploratoryTools, which legitimately
	// repeat while the model explores a codebase.
	StreakLimit            int      `yaml:"streak_limit"`
	ExploratoryStreakLimit int      `yaml:"exploratory_streak_limit"`
	ExploratoryTools       []string `yaml:"exploratory_tools"`

	// MaxToolCalls caps the total tool calls across one ProcessMessage invocation.
	MaxToolCalls int `yaml:"max_tool_calls"`

	// WallClockLimit is the hard ceiling for one ProcessMessage invocation.
	WallClockLimit time.Duration `yaml:"wall_clock_limit"`
}

// Communication holds sub-agent channel settings.
type Communication struct {
	// ReceiveTimeout bounds a blocking ReceiveFromParent call.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`

	// HistoryLimit caps the per-channel message history (FIFO eviction).
	HistoryLimit int `yaml:"history_limit"`
}

// SpecializationOverride customizes one specialization's defaults.
type SpecializationOverride struct {
	AllowedTools         []string `yaml:"allowed_tools"`
	Model                string   `yaml:"model"`
	SystemPromptAddition string   `yaml:"system_prompt_addition"`
	MaxConcurrentTasks   int      `yaml:"max_concurrent_tasks"`
}

// Config is the root configuration document.
type Config struct {
	// Provider selects the strategy variant (openai, anthropic, gemini).
	// Unknown names fall back to the OpenAI-shaped strategy.
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	LoopDetection   LoopDetection                     `yaml:"loop_detection"`
	Communication   Communication                     `yaml:"communication"`
	Specializations map[string]SpecializationOverride `yaml:"specializations"`
}

// Default returns the baseline configuration with the empirical constants used
// in production.
func Default() *Config {
	return &Config{
		Provider: "openai",
		LoopDetection: LoopDetection{
			SimilarityThreshold:    0.9,
			PatternMinLength:       2,
			PatternMaxLength:       5,
			StreakWindow:           10,
			StreakLimit:            8,
			ExploratoryStreakLimit: 12,
			ExploratoryTools:       []string{"read", "glob", "ripgrep", "ls"},
			MaxToolCalls:           50,
			WallClockLimit:         10 * time.Minute,
		},
		Communication: Communication{
			ReceiveTimeout: 5 * time.Second,
			HistoryLimit:   1000,
		},
		Specializations: map[string]SpecializationOverride{},
	}
}

// Parse unmarshals YAML overrides over the default configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}
