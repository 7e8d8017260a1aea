// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"iqpipe/internal/analysis"
	applog "iqpipe/internal/log"
	"iqpipe/internal/pipeline"
	"iqpipe/internal/sample"
	"iqpipe/internal/sink"
)

var logger = applog.New("config")

// Config represents the recorder configuration, loaded from YAML.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug, info, warn, error.
	Capture  CaptureConfig `yaml:"capture"`
	FFT      FFTConfig     `yaml:"fft"`
	Offload  OffloadConfig `yaml:"offload"`
	Source   SourceConfig  `yaml:"source"`
	Monitor  MonitorConfig `yaml:"monitor"`
}

// CaptureConfig holds the raw sample settings.
type CaptureConfig struct {
	File             string        `yaml:"file"`     // Raw sample file, "" for none. .gz / .zst compress.
	FFTFile          string        `yaml:"fft_file"` // Spectrogram file, "" for none.
	Type             string        `yaml:"type"`     // short, float or double.
	Rate             int           `yaml:"rate"`     // Samples per second.
	SamplesPerBuffer int           `yaml:"spb"`      // Samples per pool buffer.
	Samples          uint64        `yaml:"nsamps"`   // Stop after this many samples, 0 for unlimited.
	Duration         time.Duration `yaml:"duration"` // Stop after this long, 0 for unlimited.
	ZLevel           int           `yaml:"zlevel"`   // gzip / zstd compression level.
}

// FFTConfig holds the spectrogram settings.
type FFTConfig struct {
	Size       int    `yaml:"nfft"`    // Points per FFT, 0 disables analysis.
	Overlap    int    `yaml:"overlap"` // Samples shared by adjacent frames.
	Divisor    int    `yaml:"div"`     // Accumulator holds rate/div samples.
	Downsample int    `yaml:"ds"`      // Analyse every ds-th accumulator.
	Window     string `yaml:"window"`  // hamming, hann, blackman, ...
}

// OffloadConfig selects the batched transform backend.
type OffloadConfig struct {
	Enabled bool `yaml:"enabled"`
	Batches int  `yaml:"batches"` // FFT columns per device call.
	Device  int  `yaml:"device"`
}

// SourceConfig selects and tunes the sample producer.
type SourceConfig struct {
	Kind       string  `yaml:"kind"`        // synthetic, wav or soundcard.
	Input      string  `yaml:"input"`       // WAV file for the wav source.
	Device     int     `yaml:"device"`      // PortAudio input device, -1 for default.
	LowLatency bool    `yaml:"low_latency"` // Request low latency from PortAudio.
	Frequency  float64 `yaml:"frequency"`   // Synthetic tone offset, Hz.
	Amplitude  float64 `yaml:"amplitude"`   // Synthetic tone amplitude, full scale 1.
	Noise      float64 `yaml:"noise"`       // Synthetic noise amplitude, full scale 1.
	Realtime   bool    `yaml:"realtime"`    // Pace the synthetic source to the sample rate.
}

// MonitorConfig holds the live spectrum outputs.
type MonitorConfig struct {
	Addr     string        `yaml:"addr"`      // WebSocket and /metrics listen address, "" for none.
	UDP      string        `yaml:"udp"`       // UDP target address, "" for none.
	Interval time.Duration `yaml:"interval"`  // UDP publish period.
	LogEvery int           `yaml:"log_every"` // Log every n-th spectrum at INFO when no other monitor is set.
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Capture: CaptureConfig{
			Type:             DefaultType,
			Rate:             DefaultSampleRate,
			SamplesPerBuffer: DefaultSamplesPerBuffer,
			ZLevel:           DefaultZLevel,
		},
		FFT: FFTConfig{
			Size:       DefaultNFFT,
			Overlap:    DefaultOverlap,
			Divisor:    DefaultDivisor,
			Downsample: DefaultDownsample,
			Window:     DefaultWindow,
		},
		Offload: OffloadConfig{
			Batches: DefaultBatches,
		},
		Source: SourceConfig{
			Kind:      DefaultSource,
			Device:    DefaultDeviceID,
			Frequency: DefaultFrequency,
			Amplitude: DefaultAmplitude,
			Noise:     DefaultNoise,
			Realtime:  true,
		},
		Monitor: MonitorConfig{
			Interval: DefaultUDPInterval,
			LogEvery: DefaultLogEvery,
		},
	}
}

// LoadConfig loads configuration from the YAML file at path. If path is
// empty it looks for DefaultConfigFile in the working directory and falls
// back to the built-in defaults. Environment overrides are applied last,
// then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return &cfg, nil
		}
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	logger.Debugf("loaded %s", path)

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every setting that does not depend on another package's
// rules. Pipeline parameter combinations are checked by PipelineConfig.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	if _, err := sample.ParseFormat(c.Capture.Type); err != nil {
		return fmt.Errorf("%w: capture.type: %w", ErrInvalid, err)
	}
	if c.Capture.Rate < MinSampleRate {
		return fmt.Errorf("%w: capture.rate %d must be positive", ErrInvalid, c.Capture.Rate)
	}
	if c.Capture.SamplesPerBuffer < 1 {
		return fmt.Errorf("%w: capture.spb %d must be positive", ErrInvalid, c.Capture.SamplesPerBuffer)
	}
	if c.Capture.Duration < 0 {
		return fmt.Errorf("%w: capture.duration %s is negative", ErrInvalid, c.Capture.Duration)
	}
	if c.Capture.ZLevel < MinZLevel || c.Capture.ZLevel > MaxZLevel {
		return fmt.Errorf("%w: capture.zlevel %d out of range [%d, %d]", ErrInvalid, c.Capture.ZLevel, MinZLevel, MaxZLevel)
	}
	for _, target := range []string{c.Capture.File, c.Capture.FFTFile} {
		if err := sink.CheckLevel(sink.CompressionFor(target), c.Capture.ZLevel); err != nil {
			return fmt.Errorf("%w: capture.zlevel for %s: %w", ErrInvalid, target, err)
		}
	}
	if _, err := analysis.ParseWindowFunc(c.FFT.Window); err != nil {
		return fmt.Errorf("%w: fft.window: %w", ErrInvalid, err)
	}
	if c.FFT.Size < 0 {
		return fmt.Errorf("%w: fft.nfft %d is negative", ErrInvalid, c.FFT.Size)
	}
	if c.Offload.Enabled && c.Offload.Batches < 1 {
		return fmt.Errorf("%w: offload.batches %d must be positive", ErrInvalid, c.Offload.Batches)
	}

	switch c.Source.Kind {
	case SourceSynthetic, SourceSoundcard:
	case SourceWAV:
		if c.Source.Input == "" {
			return fmt.Errorf("%w: source.input is required for the wav source", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: source.kind %q (want %s, %s or %s)", ErrInvalid, c.Source.Kind, SourceSynthetic, SourceWAV, SourceSoundcard)
	}

	if c.Monitor.UDP != "" && !strings.Contains(c.Monitor.UDP, ":") {
		return fmt.Errorf("%w: monitor.udp %q is missing a port", ErrInvalid, c.Monitor.UDP)
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("%w: monitor.interval %s is negative", ErrInvalid, c.Monitor.Interval)
	}
	return nil
}

// PipelineConfig derives the pipeline start parameters and validates their
// combination.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	format, err := sample.ParseFormat(c.Capture.Type)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("%w: capture.type: %w", ErrInvalid, err)
	}
	window, err := analysis.ParseWindowFunc(c.FFT.Window)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("%w: fft.window: %w", ErrInvalid, err)
	}

	pc := pipeline.Config{
		RawPath:    c.Capture.File,
		FFTPath:    c.Capture.FFTFile,
		Format:     format,
		MaxSamples: c.Capture.SamplesPerBuffer,
		ZLevel:     c.Capture.ZLevel,
		NFFT:       c.FFT.Size,
		Overlap:    c.FFT.Overlap,
		Divisor:    c.FFT.Divisor,
		DS:         c.FFT.Downsample,
		SampleRate: c.Capture.Rate,
		Window:     window,
		UseOffload: c.Offload.Enabled,
		Batch:      c.Offload.Batches,
		DeviceID:   c.Offload.Device,
	}
	if err := pc.Validate(); err != nil {
		return pipeline.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return pc, nil
}

// applyEnvOverrides replaces file values with ENV_* variables when set.
// Unparseable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		logger.Infof("overriding log_level from env: %s", val)
	}

	// ENV_{RAW,FFT}_FILE
	if val, ok := os.LookupEnv("ENV_RAW_FILE"); ok {
		c.Capture.File = val
		logger.Infof("overriding capture.file from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_FFT_FILE"); ok {
		c.Capture.FFTFile = val
		logger.Infof("overriding capture.fft_file from env: %s", val)
	}

	// ENV_ZLEVEL
	if val, ok := os.LookupEnv("ENV_ZLEVEL"); ok {
		if level, err := strconv.Atoi(val); err == nil {
			c.Capture.ZLevel = level
			logger.Infof("overriding capture.zlevel from env: %d", level)
		} else {
			logger.Warnf("ignoring ENV_ZLEVEL %q: %v", val, err)
		}
	}

	// ENV_MONITOR_ADDR
	if val, ok := os.LookupEnv("ENV_MONITOR_ADDR"); ok {
		c.Monitor.Addr = val
		logger.Infof("overriding monitor.addr from env: %s", val)
	}
}
