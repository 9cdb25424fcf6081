package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Stop     StopConfig     `mapstructure:"stop" yaml:"stop"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Device     string `mapstructure:"device" yaml:"device"` // empty = default input device
}

// LimitsConfig bounds a single recording.
type LimitsConfig struct {
	MinDuration  time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	MaxDuration  time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// StopConfig bounds the controller side of the stop protocol.
type StopConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	ConfirmWait  time.Duration `mapstructure:"confirm_wait" yaml:"confirm_wait"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	StateDir  string `mapstructure:"state_dir" yaml:"state_dir"`
}

// PipelineConfig declares the downstream collaborator commands. Empty
// commands disable the corresponding step.
type PipelineConfig struct {
	TranscribeCmd string `mapstructure:"transcribe_cmd" yaml:"transcribe_cmd"`
	NotifyCmd     string `mapstructure:"notify_cmd" yaml:"notify_cmd"`
	InjectCmd     string `mapstructure:"inject_cmd" yaml:"inject_cmd"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		SampleRate: 16000,
		Channels:   1,
		Device:     "",
	},
	Limits: LimitsConfig{
		MinDuration:  500 * time.Millisecond,
		MaxDuration:  5 * time.Minute,
		DrainTimeout: 2 * time.Second,
	},
	Stop: StopConfig{
		GracePeriod:  5 * time.Second,
		ConfirmWait:  500 * time.Millisecond,
		StartTimeout: 3 * time.Second,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), ".local", "share", "quickvox"),
		StateDir:  filepath.Join(os.Getenv("HOME"), ".local", "state", "quickvox"),
	},
	Pipeline: PipelineConfig{
		NotifyCmd: "notify-send",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the YAML config file and merges it over the defaults. A missing
// file is not an error; the defaults are returned unchanged.
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig

	if configFile == "" {
		configFile = os.ExpandEnv("$HOME/.config/quickvox.yaml")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values the recorder cannot work with.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 {
		// Downstream transcription expects mono PCM.
		return fmt.Errorf("audio.channels must be 1, got %d", c.Audio.Channels)
	}
	if c.Limits.MinDuration < 0 {
		return fmt.Errorf("limits.min_duration must not be negative, got %s", c.Limits.MinDuration)
	}
	if c.Limits.MaxDuration <= c.Limits.MinDuration {
		return fmt.Errorf("limits.max_duration (%s) must exceed limits.min_duration (%s)",
			c.Limits.MaxDuration, c.Limits.MinDuration)
	}
	if c.Limits.DrainTimeout <= 0 {
		return fmt.Errorf("limits.drain_timeout must be positive, got %s", c.Limits.DrainTimeout)
	}
	if c.Stop.GracePeriod <= 0 {
		return fmt.Errorf("stop.grace_period must be positive, got %s", c.Stop.GracePeriod)
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory must not be empty")
	}
	if c.Output.StateDir == "" {
		return fmt.Errorf("output.state_dir must not be empty")
	}
	return nil
}

// LockPath returns the well-known location of the recording lock record.
func (c *Config) LockPath() string {
	return filepath.Join(c.Output.StateDir, "recording.lock")
}
