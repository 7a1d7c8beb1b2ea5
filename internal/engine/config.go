// Package engine implements the adaptive assessment core: exposure control,
// the contextual selection policy, item selection, the stopping rule, and the
// per-response session orchestrator. The engine is pure computation over
// caller-supplied snapshots; the only shared state it touches is the injected
// exposure store.
package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Strategy is the closed set of selection modes. Warmup is entered
// automatically for the first WarmupItems responses of an adaptive session;
// baseline ignores the learned policy and scores on information alone.
type Strategy string

const (
	StrategyAdaptive Strategy = "adaptive"
	StrategyWarmup   Strategy = "warmup"
	StrategyBaseline Strategy = "baseline"
)

type Config struct {
	MinItems    int
	MaxItems    int
	TargetSEM   float64
	MaxDuration time.Duration // 0 disables the elapsed-time limit

	WarmupItems int
	WarmupBand  float64 // warm-up draws from items with |b| <= WarmupBand

	ExplorationAlpha float64
	RidgeLambda      float64

	Strategy Strategy
	Weights  WeightSchedule
}

func DefaultConfig() Config {
	return Config{
		MinItems:         5,
		MaxItems:         30,
		TargetSEM:        0.30,
		MaxDuration:      45 * time.Minute,
		WarmupItems:      5,
		WarmupBand:       1.0,
		ExplorationAlpha: 0.8,
		RidgeLambda:      1.0,
		Strategy:         StrategyAdaptive,
		Weights:          DefaultWeightSchedule(),
	}
}

// LoadConfig builds the engine configuration from environment variables,
// falling back to defaults. Invalid values are configuration errors and fail
// here, at startup, never at request time.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.MinItems, err = intEnv("ENGINE_MIN_ITEMS", cfg.MinItems); err != nil {
		return Config{}, err
	}
	if cfg.MaxItems, err = intEnv("ENGINE_MAX_ITEMS", cfg.MaxItems); err != nil {
		return Config{}, err
	}
	if cfg.TargetSEM, err = floatEnv("ENGINE_TARGET_SEM", cfg.TargetSEM); err != nil {
		return Config{}, err
	}
	if cfg.WarmupItems, err = intEnv("ENGINE_WARMUP_ITEMS", cfg.WarmupItems); err != nil {
		return Config{}, err
	}
	if minutes, err := intEnv("ENGINE_MAX_MINUTES", int(cfg.MaxDuration/time.Minute)); err != nil {
		return Config{}, err
	} else {
		cfg.MaxDuration = time.Duration(minutes) * time.Minute
	}
	if s := os.Getenv("ENGINE_STRATEGY"); s != "" {
		cfg.Strategy = Strategy(s)
	}

	if cfg.Weights, err = LoadWeightSchedule(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MinItems < 0 {
		return fmt.Errorf("engine config: min items %d must be >= 0", c.MinItems)
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("engine config: max items %d must be > 0", c.MaxItems)
	}
	if c.MinItems > c.MaxItems {
		return fmt.Errorf("engine config: min items %d exceeds max items %d", c.MinItems, c.MaxItems)
	}
	if c.TargetSEM <= 0 {
		return fmt.Errorf("engine config: target SEM %v must be > 0", c.TargetSEM)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("engine config: max duration %v must be >= 0", c.MaxDuration)
	}
	if c.WarmupItems < 0 {
		return fmt.Errorf("engine config: warmup items %d must be >= 0", c.WarmupItems)
	}
	if c.WarmupBand <= 0 {
		return fmt.Errorf("engine config: warmup band %v must be > 0", c.WarmupBand)
	}
	if c.ExplorationAlpha < 0 {
		return fmt.Errorf("engine config: exploration alpha %v must be >= 0", c.ExplorationAlpha)
	}
	if c.RidgeLambda <= 0 {
		return fmt.Errorf("engine config: ridge lambda %v must be > 0", c.RidgeLambda)
	}
	switch c.Strategy {
	case StrategyAdaptive, StrategyBaseline:
	case StrategyWarmup:
		return fmt.Errorf("engine config: warmup is a session phase, not a configurable strategy")
	default:
		return fmt.Errorf("engine config: unknown strategy %q", c.Strategy)
	}
	return c.Weights.Validate()
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("engine config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("engine config: %s=%q is not a number", key, v)
	}
	return f, nil
}
