// SPDX-License-Identifier: MIT
// Package cmd parses the command line into a configuration.
package cmd

import (
	"iqpipe/internal/config"
	"iqpipe/pkg/build"

	"github.com/spf13/cobra"
)

// One-off commands that do not start the pipeline.
const (
	CommandList    = "list"
	CommandVersion = "version"
)

// Invocation is the parsed command line.
type Invocation struct {
	Command string         // "" runs the recorder
	Config  *config.Config // nil for one-off commands
}

// override copies one flag value from the flag-bound config into the
// loaded one when the flag was given.
type override struct {
	flag  string
	apply func(dst, src *config.Config)
}

// ParseArgs parses args (without the program name). Flags given on the
// command line take precedence over the config file and the environment.
func ParseArgs(args []string) (*Invocation, error) {
	buildInfo := build.GetBuildFlags()
	inv := &Invocation{}
	flags := config.Default()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (default ./"+config.DefaultConfigFile+" if present)")
	pf.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn or error")

	f := rootCmd.Flags()
	f.StringVar(&flags.Capture.File, "file", "", "Raw sample file; .gz or .zst compresses")
	f.StringVar(&flags.Capture.FFTFile, "fft-file", "", "Spectrogram file (float32 dB rows); .gz or .zst compresses")
	f.StringVar(&flags.Capture.Type, "type", flags.Capture.Type, "Sample type: short, float or double")
	f.IntVar(&flags.Capture.Rate, "rate", flags.Capture.Rate, "Sample rate in samples per second")
	f.IntVar(&flags.Capture.SamplesPerBuffer, "spb", flags.Capture.SamplesPerBuffer, "Max samples per buffer")
	f.Uint64Var(&flags.Capture.Samples, "nsamps", 0, "Total samples to record, 0 for unlimited")
	f.DurationVar(&flags.Capture.Duration, "duration", 0, "Recording duration, 0 for unlimited")
	f.IntVar(&flags.Capture.ZLevel, "zlevel", flags.Capture.ZLevel, "Compression level for .gz and .zst files")

	f.IntVar(&flags.FFT.Size, "nfft", flags.FFT.Size, "FFT points, 0 disables the spectrogram")
	f.IntVar(&flags.FFT.Overlap, "nfft-overlap", flags.FFT.Overlap, "Samples shared by adjacent FFT frames")
	f.IntVar(&flags.FFT.Divisor, "nfft-div", flags.FFT.Divisor, "Analyse rate/div samples per accumulator")
	f.IntVar(&flags.FFT.Downsample, "nfft-ds", flags.FFT.Downsample, "Analyse every n-th accumulator")
	f.StringVar(&flags.FFT.Window, "window", flags.FFT.Window, "Window function: hamming, hann, blackman, nuttall, ...")

	f.BoolVar(&flags.Offload.Enabled, "vkfft", false, "Use the batched offload FFT backend")
	f.IntVar(&flags.Offload.Batches, "vkfft-batches", flags.Offload.Batches, "FFT columns per offload call")
	f.IntVar(&flags.Offload.Device, "vkfft-device", flags.Offload.Device, "Offload device ID")

	f.StringVar(&flags.Source.Kind, "source", flags.Source.Kind, "Sample source: synthetic, wav or soundcard")
	f.StringVar(&flags.Source.Input, "input", "", "Stereo WAV file for the wav source (left = I, right = Q)")
	f.IntVarP(&flags.Source.Device, "device", "d", flags.Source.Device, "Soundcard input device ID, see 'list'")
	f.Float64Var(&flags.Source.Frequency, "tone", flags.Source.Frequency, "Synthetic tone offset in Hz")

	f.StringVar(&flags.Monitor.Addr, "monitor", "", "Serve the live spectrum on ws://ADDR/ws and metrics on /metrics")
	f.StringVar(&flags.Monitor.UDP, "udp", "", "Send the live spectrum as UDP packets to HOST:PORT")

	overrides := []override{
		{"log-level", func(d, s *config.Config) { d.LogLevel = s.LogLevel }},
		{"file", func(d, s *config.Config) { d.Capture.File = s.Capture.File }},
		{"fft-file", func(d, s *config.Config) { d.Capture.FFTFile = s.Capture.FFTFile }},
		{"type", func(d, s *config.Config) { d.Capture.Type = s.Capture.Type }},
		{"rate", func(d, s *config.Config) { d.Capture.Rate = s.Capture.Rate }},
		{"spb", func(d, s *config.Config) { d.Capture.SamplesPerBuffer = s.Capture.SamplesPerBuffer }},
		{"nsamps", func(d, s *config.Config) { d.Capture.Samples = s.Capture.Samples }},
		{"duration", func(d, s *config.Config) { d.Capture.Duration = s.Capture.Duration }},
		{"zlevel", func(d, s *config.Config) { d.Capture.ZLevel = s.Capture.ZLevel }},
		{"nfft", func(d, s *config.Config) { d.FFT.Size = s.FFT.Size }},
		{"nfft-overlap", func(d, s *config.Config) { d.FFT.Overlap = s.FFT.Overlap }},
		{"nfft-div", func(d, s *config.Config) { d.FFT.Divisor = s.FFT.Divisor }},
		{"nfft-ds", func(d, s *config.Config) { d.FFT.Downsample = s.FFT.Downsample }},
		{"window", func(d, s *config.Config) { d.FFT.Window = s.FFT.Window }},
		{"vkfft", func(d, s *config.Config) { d.Offload.Enabled = s.Offload.Enabled }},
		{"vkfft-batches", func(d, s *config.Config) { d.Offload.Batches = s.Offload.Batches }},
		{"vkfft-device", func(d, s *config.Config) { d.Offload.Device = s.Offload.Device }},
		{"source", func(d, s *config.Config) { d.Source.Kind = s.Source.Kind }},
		{"input", func(d, s *config.Config) { d.Source.Input = s.Source.Input }},
		{"device", func(d, s *config.Config) { d.Source.Device = s.Source.Device }},
		{"tone", func(d, s *config.Config) { d.Source.Frequency = s.Source.Frequency }},
		{"monitor", func(d, s *config.Config) { d.Monitor.Addr = s.Monitor.Addr }},
		{"udp", func(d, s *config.Config) { d.Monitor.UDP = s.Monitor.UDP }},
	}

	rootCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		for _, o := range overrides {
			if cmd.Flags().Changed(o.flag) {
				o.apply(cfg, &flags)
			}
		}
		// Flags may have changed a validated value.
		if err := cfg.Validate(); err != nil {
			return err
		}
		inv.Config = cfg
		return nil
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandList,
		Short: "List soundcard input devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			inv.Command = CommandList
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandVersion,
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			inv.Command = CommandVersion
		},
	})

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return inv, nil
}
