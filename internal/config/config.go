// Package config loads the static operator-edited document: concurrency
// limits, default intervals, cooldown defaults, working paths, and the
// process manager used for health checks. Everything here is read once at
// startup — runtime-mutated state lives in internal/state/internal/schedule
// instead, the same split the teacher draws between YAML config and
// JSON state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root document loaded from cos/config.yaml.
type Config struct {
	Paths       Paths                    `yaml:"paths"`
	Concurrency Concurrency              `yaml:"concurrency"`
	Intervals   map[string]time.Duration `yaml:"intervals"`
	// IntervalTypes maps a task type to its schedule.IntervalType string
	// (rotation/daily/weekly/once/on-demand/custom). Unlisted task types
	// default to custom.
	IntervalTypes   map[string]string    `yaml:"intervalTypes"`
	Overrides   []IntervalOverride       `yaml:"overrides"`
	Cooldown    Cooldown                 `yaml:"cooldown"`
	ProcessManager string                `yaml:"processManager"`
	EvaluationTick time.Duration         `yaml:"evaluationTick"`
	HealthCheckTick time.Duration        `yaml:"healthCheckTick"`
	ZombieGrace    time.Duration         `yaml:"zombieGrace"`
	// AppReviewCooldown bounds how soon after an app's agent completes
	// another auto-approved system task may be admitted for that app.
	AppReviewCooldown time.Duration `yaml:"appReviewCooldown"`
	// ProactiveMode gates mission-driven task generation (P3): missions are
	// only dispatched when true and nothing user-pending is waiting.
	ProactiveMode bool `yaml:"proactiveMode"`
	// Missions are proactive, auto-approved tasks generated when the system
	// is otherwise idle of user-pending work.
	Missions []Mission `yaml:"missions"`
	// AutonomousJobs are recurring, auto-approved tasks gated by their own
	// schedule entry rather than the improvement-task rotation.
	AutonomousJobs []AutonomousJob `yaml:"autonomousJobs"`
}

// Mission is an operator-declared proactive initiative: a standing task
// description the orchestrator keeps re-issuing (one in flight at a time)
// whenever there's no user-pending work to prioritize instead.
type Mission struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	App         string `yaml:"app"`
	Priority    string `yaml:"priority"`
}

// AutonomousJob is an operator-declared recurring task driven by its own
// schedule entry, independent of the task-type rotation.
type AutonomousJob struct {
	ID       string `yaml:"id"`
	TaskType string `yaml:"taskType"`
	App      string `yaml:"app"`
}

// Paths locates the files the core reads and writes.
type Paths struct {
	StateDir       string `yaml:"stateDir"`
	UserTasksFile  string `yaml:"userTasksFile"`
	SystemTasksFile string `yaml:"systemTasksFile"`
	ReportsDir     string `yaml:"reportsDir"`
}

// Concurrency bounds how many agents may run at once, globally and per
// project ("app" in the glossary).
type Concurrency struct {
	GlobalMax int            `yaml:"globalMax"`
	PerApp    map[string]int `yaml:"perApp"`
	DefaultPerApp int         `yaml:"defaultPerApp"`
}

// IntervalOverride is a per-app interval override; cmd/cos turns each one
// into a schedule.Key + duration pair and registers it with SetOverride.
type IntervalOverride struct {
	TaskType string        `yaml:"taskType"`
	App      string        `yaml:"app"`
	Interval time.Duration `yaml:"interval"`
}

// Cooldown carries the bounds the learning store's adaptive multiplier is
// allowed to request admission control to honor.
type Cooldown struct {
	MinSamplesForConfidence int `yaml:"minSamplesForConfidence"`
	RehabilitationGraceDays int `yaml:"rehabilitationGraceDays"`
}

// Default returns a config with sane defaults for every field, used when no
// config.yaml exists yet or a field is left unset.
func Default() *Config {
	return &Config{
		Paths: Paths{
			StateDir:        "cos",
			UserTasksFile:   "cos/tasks.md",
			SystemTasksFile: "cos/system-tasks.md",
			ReportsDir:      "cos/reports",
		},
		Concurrency: Concurrency{
			GlobalMax:     5,
			PerApp:        map[string]int{},
			DefaultPerApp: 2,
		},
		Intervals: map[string]time.Duration{
			"security": time.Hour,
			"refactor": 6 * time.Hour,
		},
		IntervalTypes: map[string]string{
			"security": "rotation",
			"refactor": "rotation",
		},
		Cooldown: Cooldown{
			MinSamplesForConfidence: 3,
			RehabilitationGraceDays: 7,
		},
		ProcessManager:    "pm2",
		EvaluationTick:    30 * time.Second,
		HealthCheckTick:   5 * time.Minute,
		ZombieGrace:       30 * time.Second,
		AppReviewCooldown: 30 * time.Minute,
		ProactiveMode:     true,
	}
}

// Load reads and parses a YAML config file, filling any zero-valued field
// from Default() so a partial document is never a crash.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults backfills zero-valued fields a partially-specified YAML
// document left unset.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Paths.StateDir == "" {
		cfg.Paths = d.Paths
	}
	if cfg.Concurrency.GlobalMax == 0 {
		cfg.Concurrency.GlobalMax = d.Concurrency.GlobalMax
	}
	if cfg.Concurrency.DefaultPerApp == 0 {
		cfg.Concurrency.DefaultPerApp = d.Concurrency.DefaultPerApp
	}
	if cfg.Concurrency.PerApp == nil {
		cfg.Concurrency.PerApp = map[string]int{}
	}
	if cfg.Intervals == nil {
		cfg.Intervals = d.Intervals
	}
	if cfg.IntervalTypes == nil {
		cfg.IntervalTypes = d.IntervalTypes
	}
	if cfg.Cooldown.MinSamplesForConfidence == 0 {
		cfg.Cooldown.MinSamplesForConfidence = d.Cooldown.MinSamplesForConfidence
	}
	if cfg.Cooldown.RehabilitationGraceDays == 0 {
		cfg.Cooldown.RehabilitationGraceDays = d.Cooldown.RehabilitationGraceDays
	}
	if cfg.ProcessManager == "" {
		cfg.ProcessManager = d.ProcessManager
	}
	if cfg.EvaluationTick == 0 {
		cfg.EvaluationTick = d.EvaluationTick
	}
	if cfg.HealthCheckTick == 0 {
		cfg.HealthCheckTick = d.HealthCheckTick
	}
	if cfg.ZombieGrace == 0 {
		cfg.ZombieGrace = d.ZombieGrace
	}
	if cfg.AppReviewCooldown == 0 {
		cfg.AppReviewCooldown = d.AppReviewCooldown
	}
}

// PerAppLimit returns the configured concurrency cap for app, falling back
// to DefaultPerApp when no explicit entry exists.
func (c *Config) PerAppLimit(app string) int {
	if limit, ok := c.Concurrency.PerApp[app]; ok {
		return limit
	}
	return c.Concurrency.DefaultPerApp
}
