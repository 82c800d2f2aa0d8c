// Package config loads and validates the run profile: data location, cascade
// thresholds, pipeline composition, execution parameters and artifact storage.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/quantive/cascade/internal/core"
	"github.com/quantive/cascade/internal/pipeline"
	"github.com/quantive/cascade/internal/sim"
	"github.com/quantive/cascade/internal/stage"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Data     DataConfig     `mapstructure:"data"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Stages   StagesConfig   `mapstructure:"stages"`
	Sim      SimConfig      `mapstructure:"sim"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DataConfig struct {
	Dir     string   `mapstructure:"dir"`
	Symbols []string `mapstructure:"symbols"` // empty means the provider's full universe
}

type PipelineConfig struct {
	Workers int      `mapstructure:"workers"`
	Skip    []string `mapstructure:"skip"` // stage IDs to bypass, e.g. ["E", "F"]
}

type StagesConfig struct {
	Earnings    EarningsStageConfig    `mapstructure:"earnings"`
	Fundamental FundamentalStageConfig `mapstructure:"fundamental"`
	Weekly      WeeklyStageConfig      `mapstructure:"weekly"`
	RS          RSStageConfig          `mapstructure:"rs"`
	Daily       DailyStageConfig       `mapstructure:"daily"`
}

type EarningsStageConfig struct {
	RevenueGrowthFloor float64 `mapstructure:"revenue_growth_floor"`
	EPSGrowthFloor     float64 `mapstructure:"eps_growth_floor"`
}

type FundamentalStageConfig struct {
	MinMarketCap    float64 `mapstructure:"min_market_cap"`
	MaxMarketCap    float64 `mapstructure:"max_market_cap"`
	GrowthThreshold float64 `mapstructure:"growth_threshold"`
}

type WeeklyStageConfig struct {
	ShortWindow   int     `mapstructure:"short_window"`
	LongWindow    int     `mapstructure:"long_window"`
	HighTolerance float64 `mapstructure:"high_tolerance"`
	MinAboveLow   float64 `mapstructure:"min_above_low"`
	NearHighRatio float64 `mapstructure:"near_high_ratio"`
}

type RSStageConfig struct {
	Cutoff float64 `mapstructure:"cutoff"`
}

type DailyStageConfig struct {
	MomentumLookback int     `mapstructure:"momentum_lookback"`
	StopFraction     float64 `mapstructure:"stop_fraction"`
	BreakoutWindows  []int   `mapstructure:"breakout_windows"`
}

type SimConfig struct {
	InitialCash      float64 `mapstructure:"initial_cash"`
	RiskFraction     float64 `mapstructure:"risk_fraction"`
	SlippageFraction float64 `mapstructure:"slippage_fraction"`
	Commission       float64 `mapstructure:"commission"`

	PartialExitEnabled  bool    `mapstructure:"partial_exit_enabled"`
	PartialExitFraction float64 `mapstructure:"partial_exit_fraction"`
	StopWidenFraction   float64 `mapstructure:"stop_widen_fraction"`

	PyramidingEnabled   bool    `mapstructure:"pyramiding_enabled"`
	MaxPyramids         int     `mapstructure:"max_pyramids"`
	PyramidSizeFraction float64 `mapstructure:"pyramid_size_fraction"`

	MaxPositions        int     `mapstructure:"max_positions"`
	MaxPositionFraction float64 `mapstructure:"max_position_fraction"`
	ADRMultiple         float64 `mapstructure:"adr_multiple"`

	SignalExitOnTrendBreak bool `mapstructure:"signal_exit_on_trend_break"`
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // for localfs
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	simDefaults := sim.DefaultConfig()
	return &Config{
		Mode: string(core.ModeRetrospective),
		Data: DataConfig{
			Dir: "data",
		},
		Pipeline: PipelineConfig{
			Workers: 4,
		},
		Stages: StagesConfig{
			Earnings: EarningsStageConfig{
				RevenueGrowthFloor: 0.20,
				EPSGrowthFloor:     0.20,
			},
			Fundamental: FundamentalStageConfig{
				MinMarketCap:    300e6,
				MaxMarketCap:    50e9,
				GrowthThreshold: 0.25,
			},
			Weekly: WeeklyStageConfig{
				ShortWindow:   13,
				LongWindow:    26,
				HighTolerance: 0.05,
				MinAboveLow:   1.30,
				NearHighRatio: 0.75,
			},
			RS: RSStageConfig{
				Cutoff: stage.DefaultRSConfig().Cutoff,
			},
			Daily: DailyStageConfig{
				MomentumLookback: 20,
				StopFraction:     0.05,
				BreakoutWindows:  append([]int(nil), stage.DefaultBreakoutWindows...),
			},
		},
		Sim: SimConfig{
			InitialCash:            simDefaults.InitialCash,
			RiskFraction:           simDefaults.RiskFraction,
			SlippageFraction:       simDefaults.SlippageFraction,
			Commission:             simDefaults.Commission,
			PartialExitEnabled:     simDefaults.PartialExitEnabled,
			PartialExitFraction:    simDefaults.PartialExitFraction,
			StopWidenFraction:      simDefaults.StopWidenFraction,
			PyramidingEnabled:      simDefaults.PyramidingEnabled,
			MaxPyramids:            simDefaults.MaxPyramids,
			PyramidSizeFraction:    simDefaults.PyramidSizeFraction,
			MaxPositions:           simDefaults.MaxPositions,
			MaxPositionFraction:    simDefaults.MaxPositionFraction,
			ADRMultiple:            simDefaults.ADRMultiple,
			SignalExitOnTrendBreak: simDefaults.SignalExitOnTrendBreak,
		},
		Archive: ArchiveConfig{
			Type: "localfs",
			Path: "runs",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !core.Mode(c.Mode).IsValid() {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("mode must be %q or %q, got %q",
				core.ModeRetrospective, core.ModeForward, c.Mode))
	}

	if c.Data.Dir == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("data dir is required"))
	}

	if c.Pipeline.Workers < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("workers cannot be negative, got %d", c.Pipeline.Workers))
	}
	for _, id := range c.Pipeline.Skip {
		if !knownStage(core.StageID(id)) {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("unknown stage %q in skip list", id))
		}
	}

	if c.Stages.RS.Cutoff < 0 || c.Stages.RS.Cutoff > 100 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("rs cutoff must be between 0 and 100, got %f", c.Stages.RS.Cutoff))
	}
	if c.Stages.Weekly.ShortWindow <= 0 || c.Stages.Weekly.LongWindow < c.Stages.Weekly.ShortWindow {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("weekly windows must satisfy 0 < short <= long, got %d/%d",
				c.Stages.Weekly.ShortWindow, c.Stages.Weekly.LongWindow))
	}
	if c.Stages.Daily.StopFraction <= 0 || c.Stages.Daily.StopFraction >= 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("stop_fraction must be in (0,1), got %f", c.Stages.Daily.StopFraction))
	}
	if len(c.Stages.Daily.BreakoutWindows) == 0 {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("at least one breakout window is required"))
	}
	for _, w := range c.Stages.Daily.BreakoutWindows {
		if w <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("breakout windows must be positive, got %d", w))
		}
	}

	if err := c.SimConfig().Validate(); err != nil {
		return err
	}

	switch c.Archive.Type {
	case "localfs":
		if c.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("archive path required when type is localfs"))
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("s3 bucket required when type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Archive.Type))
	}

	return nil
}

func knownStage(id core.StageID) bool {
	for _, s := range core.StageOrder {
		if s == id {
			return true
		}
	}
	return false
}

// Filters builds the cascade in canonical order from the configured
// thresholds.
func (c *Config) Filters() []stage.Filter {
	return []stage.Filter{
		stage.NewEarnings(stage.EarningsConfig{
			RevenueGrowthFloor: c.Stages.Earnings.RevenueGrowthFloor,
			EPSGrowthFloor:     c.Stages.Earnings.EPSGrowthFloor,
		}),
		stage.NewFundamental(stage.FundamentalConfig{
			MinMarketCap:    c.Stages.Fundamental.MinMarketCap,
			MaxMarketCap:    c.Stages.Fundamental.MaxMarketCap,
			GrowthThreshold: c.Stages.Fundamental.GrowthThreshold,
		}),
		stage.NewWeekly(stage.WeeklyConfig{
			ShortWindow:   c.Stages.Weekly.ShortWindow,
			LongWindow:    c.Stages.Weekly.LongWindow,
			HighTolerance: c.Stages.Weekly.HighTolerance,
			MinAboveLow:   c.Stages.Weekly.MinAboveLow,
			NearHighRatio: c.Stages.Weekly.NearHighRatio,
		}),
		stage.NewRelStrength(stage.RSConfig{Cutoff: c.Stages.RS.Cutoff}),
		stage.NewDaily(stage.DailyConfig{
			MomentumLookback: c.Stages.Daily.MomentumLookback,
			StopFraction:     c.Stages.Daily.StopFraction,
			BreakoutWindows:  c.Stages.Daily.BreakoutWindows,
			RS:               stage.RSConfig{Cutoff: c.Stages.RS.Cutoff},
		}),
	}
}

// RunnerConfig converts the pipeline section into runner configuration.
func (c *Config) RunnerConfig() pipeline.Config {
	skip := make(map[core.StageID]bool, len(c.Pipeline.Skip))
	for _, id := range c.Pipeline.Skip {
		skip[core.StageID(id)] = true
	}
	return pipeline.Config{Skip: skip, Workers: c.Pipeline.Workers}
}

// SimConfig converts the sim section into execution parameters.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		InitialCash:            c.Sim.InitialCash,
		RiskFraction:           c.Sim.RiskFraction,
		SlippageFraction:       c.Sim.SlippageFraction,
		Commission:             c.Sim.Commission,
		PartialExitEnabled:     c.Sim.PartialExitEnabled,
		PartialExitFraction:    c.Sim.PartialExitFraction,
		StopWidenFraction:      c.Sim.StopWidenFraction,
		PyramidingEnabled:      c.Sim.PyramidingEnabled,
		MaxPyramids:            c.Sim.MaxPyramids,
		PyramidSizeFraction:    c.Sim.PyramidSizeFraction,
		MaxPositions:           c.Sim.MaxPositions,
		MaxPositionFraction:    c.Sim.MaxPositionFraction,
		ADRMultiple:            c.Sim.ADRMultiple,
		SignalExitOnTrendBreak: c.Sim.SignalExitOnTrendBreak,
	}
}
