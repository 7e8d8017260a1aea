// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"iqpipe/cmd"
	"iqpipe/internal/config"
	applog "iqpipe/internal/log"
	"iqpipe/internal/metrics"
	"iqpipe/internal/pipeline"
	"iqpipe/internal/source"
	"iqpipe/internal/transport"
	"iqpipe/internal/transport/udp"
	"iqpipe/pkg/build"
)

// main runs the recorder in three phases:
//
// 1. Startup (cold path): build info, command line, configuration, sinks,
// monitors and the sample source.
//
// 2. Capture (hot path): the source fills pool buffers while the drain,
// dispatch and collect workers stream them to disk.
//
// 3. Shutdown (cold path): on source exhaustion or SIGINT/SIGTERM the
// pipeline drains, the sinks are finalized (renamed with the overflow
// prefix if data was lost) and the monitors close.
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("build info: %v, using development defaults", err)
	}

	inv, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Errorf("%v", err)
		os.Exit(2)
	}

	switch inv.Command {
	case cmd.CommandList:
		if err := listDevices(os.Stdout); err != nil {
			applog.Errorf("%v", err)
			os.Exit(1)
		}
		return
	case cmd.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return
	}
	if inv.Config == nil {
		return // --help or --version
	}

	if err := run(inv.Config); err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
}

func listDevices(w io.Writer) error {
	if err := source.Initialize(); err != nil {
		return err
	}
	defer source.Terminate()
	return source.ListDevices(w)
}

func run(cfg *config.Config) (err error) {
	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	pm, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return err
	}

	monitor, err := newMonitor(cfg, registry)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, monitor.Close()) }()

	p, err := pipeline.New(pcfg, pipeline.WithMetrics(pm), pipeline.WithMonitor(monitor))
	if err != nil {
		return err
	}

	src, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeSource()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(); err != nil {
		return err
	}

	if cfg.Monitor.UDP != "" {
		publisher, closeUDP, udpErr := newUDPPublisher(cfg, p)
		if udpErr != nil {
			return errors.Join(udpErr, p.Stop(false))
		}
		publisher.Start()
		defer func() { err = errors.Join(err, closeUDP()) }()
	}

	// ==================== CAPTURE PHASE (Hot Path) ====================

	applog.Infof("recording from %s source", src.Name())
	stats, runErr := src.Run(ctx, p)

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if stats.Overflow() {
		applog.Warnf("overflow: %d buffers lost, %d dropped by the sample queue", stats.Overflows, p.Dropped())
	}
	stopErr := p.Stop(stats.Overflow())
	applog.Infof("recorded %d samples in %d buffers", stats.Samples, stats.Buffers)
	return errors.Join(runErr, stopErr)
}

// newMonitor returns the websocket monitor when an address is configured,
// or a logging monitor otherwise.
func newMonitor(cfg *config.Config, registry *prometheus.Registry) (transport.Transport, error) {
	if cfg.Monitor.Addr == "" {
		return transport.NewLoggingTransport(cfg.Monitor.LogEvery), nil
	}
	return transport.NewWebSocketTransport(cfg.Monitor.Addr, transport.WithGatherer(registry))
}

func newUDPPublisher(cfg *config.Config, p *pipeline.Pipeline) (*udp.UDPPublisher, func() error, error) {
	sender, err := udp.NewUDPSender(cfg.Monitor.UDP)
	if err != nil {
		return nil, nil, err
	}
	publisher, err := udp.NewUDPPublisher(cfg.Monitor.Interval, sender, p)
	if err != nil {
		return nil, nil, errors.Join(err, sender.Close())
	}
	return publisher, func() error {
		return errors.Join(publisher.Stop(), sender.Close())
	}, nil
}

func newSource(cfg *config.Config) (source.Source, func() error, error) {
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, nil, err
	}
	opts := source.Options{
		Format:           pcfg.Format,
		SamplesPerBuffer: pcfg.MaxSamples,
		SampleRate:       pcfg.SampleRate,
		MaxSamples:       cfg.Capture.Samples,
		Duration:         cfg.Capture.Duration,
	}
	nop := func() error { return nil }

	switch cfg.Source.Kind {
	case config.SourceWAV:
		w, err := source.OpenWAV(cfg.Source.Input, opts)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	case config.SourceSoundcard:
		if err := source.Initialize(); err != nil {
			return nil, nil, err
		}
		s, err := source.NewSoundcard(source.SoundcardConfig{
			Options:    opts,
			DeviceID:   cfg.Source.Device,
			LowLatency: cfg.Source.LowLatency,
		})
		if err != nil {
			return nil, nil, errors.Join(err, source.Terminate())
		}
		return s, source.Terminate, nil
	default:
		s, err := source.NewSynthetic(source.SyntheticConfig{
			Options:   opts,
			Frequency: cfg.Source.Frequency,
			Amplitude: cfg.Source.Amplitude,
			Noise:     cfg.Source.Noise,
			Seed:      1,
			Realtime:  cfg.Source.Realtime,
		})
		return s, nop, err
	}
}
