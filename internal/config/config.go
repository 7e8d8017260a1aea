// SPDX-License-Identifier: MIT
// Package config loads the recorder configuration from defaults, an
// optional YAML file and ENV_* overrides, and derives the pipeline
// parameters from it.
package config

import (
	"errors"
	"time"
)

// ErrInvalid wraps every error reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceWAV       = "wav"
	SourceSoundcard = "soundcard"
)

// Defaults applied before the config file and the environment.
const (
	DefaultConfigFile = "iqpipe.yaml"
	DefaultLogLevel   = "info"

	DefaultType             = "short"
	DefaultSampleRate       = 48000
	DefaultSamplesPerBuffer = 4800
	DefaultZLevel           = 1

	DefaultNFFT       = 256
	DefaultOverlap    = 0
	DefaultDivisor    = 50 // 960 samples per accumulator at 48 kHz
	DefaultDownsample = 1
	DefaultWindow     = "hamming"

	DefaultBatches = 100

	DefaultSource    = SourceSynthetic
	DefaultDeviceID  = -1 // system default input
	DefaultFrequency = 1000.0
	DefaultAmplitude = 0.5
	DefaultNoise     = 0.01

	DefaultUDPInterval = 16 * time.Millisecond
	DefaultLogEvery    = 100
)

// Limits enforced by Validate.
const (
	MinSampleRate = 1
	MaxZLevel     = 22 // zstd; gzip accepts up to 9
	MinZLevel     = -1 // gzip default compression
)
