// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absmach/loadprobe/config"
	"github.com/absmach/loadprobe/coordinator"
	"github.com/absmach/loadprobe/logging"
	"github.com/absmach/loadprobe/management"
	"github.com/absmach/loadprobe/producer"
	"github.com/absmach/loadprobe/progress"
	"github.com/absmach/loadprobe/report"
	"github.com/absmach/loadprobe/sampler"
	"github.com/absmach/loadprobe/server/otel"
	"github.com/absmach/loadprobe/server/status"
	"github.com/absmach/loadprobe/snapshot"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	countFlag := flag.Int64("count", 0, "Messages to publish (overrides run.target)")
	boundFlag := flag.Int64("bound", 0, "Expected concurrency bound (overrides run.bound)")
	intervalFlag := flag.Duration("interval", 0, "Sampling interval (overrides run.interval)")
	maxSamplesFlag := flag.Int("max-samples", 0, "Safety bound on samples (overrides run.max_samples)")
	jsonOutFlag := flag.String("json-out", "", "Append the result as a JSON line to this file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		exitErr(err)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "count":
			cfg.Run.Target = *countFlag
		case "bound":
			cfg.Run.Bound = *boundFlag
		case "interval":
			cfg.Run.Interval = *intervalFlag
		case "max-samples":
			cfg.Run.MaxSamples = *maxSamplesFlag
		case "json-out":
			cfg.Run.JSONOut = *jsonOutFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		exitErr(fmt.Errorf("invalid configuration: %w", err))
	}

	logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		exitErr(err)
	}
	slog.SetDefault(logger)

	code := run(cfg, logger)
	logCloser.Close()
	os.Exit(code)
}

// run executes one load run and returns the process exit code.
func run(cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.New().String()

	var metrics *otel.Metrics
	if cfg.Otel.Enabled {
		provider, err := otel.New(ctx, cfg.Otel, runID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			return 2
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shutdown OpenTelemetry", "error", err)
			}
		}()

		metrics, err = otel.NewMetrics(provider.MeterProvider(),
			attribute.String("queue", cfg.Broker.Queue),
			attribute.String("run.id", runID))
		if err != nil {
			slog.Error("Failed to create OpenTelemetry metrics", "error", err)
			return 2
		}
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Otel.Endpoint, "traces", provider.TracesEnabled())
	}

	csvPath := filepath.Join(cfg.Run.OutputDir, snapshot.FileName(time.Now()))
	rec, err := snapshot.NewCSVRecorder(csvPath)
	if err != nil {
		slog.Error("Failed to create snapshot file", "error", err)
		return 2
	}
	store := snapshot.NewStore(rec)

	client := management.New(management.Config{
		URL:                 cfg.Broker.ManagementURL,
		VHost:               cfg.Broker.VHost,
		Queue:               cfg.Broker.Queue,
		Username:            cfg.Broker.Username,
		Password:            cfg.Broker.Password,
		RequestTimeout:      cfg.Broker.RequestTimeout,
		PurgeAttempts:       cfg.Broker.PurgeAttempts,
		BreakerFailures:     cfg.Broker.CircuitBreaker.FailureThreshold,
		BreakerResetTimeout: cfg.Broker.CircuitBreaker.ResetTimeout,
	}, logger)

	params := report.Params{
		Queue:              cfg.Broker.Queue,
		Target:             cfg.Run.Target,
		Bound:              cfg.Run.Bound,
		ExpectedThroughput: cfg.Run.ExpectedThroughput,
		Interval:           cfg.Run.Interval,
		MaxSamples:         cfg.Run.MaxSamples,
		CSVPath:            csvPath,
	}

	observers := []sampler.Observer{report.NewTickPrinter(os.Stdout)}
	if metrics != nil {
		observers = append(observers, metrics)
	}
	var statusSrv *status.Server
	if cfg.Status.Enabled {
		statusSrv = status.New(status.Config{
			Address:         cfg.Status.Address,
			ShutdownTimeout: cfg.Status.ShutdownTimeout,
		}, runID, logger)
		observers = append(observers, statusSrv)
	}

	coord := coordinator.New(coordinator.Config{
		RunID:           runID,
		Target:          cfg.Run.Target,
		Bound:           cfg.Run.Bound,
		Margin:          cfg.Run.Margin,
		MaxSamples:      cfg.Run.MaxSamples,
		Sampler:         sampler.Config{Interval: cfg.Run.Interval, TickTimeout: cfg.Broker.RequestTimeout},
		Purge:           cfg.Broker.Purge,
		PurgeSettle:     cfg.Broker.PurgeSettle,
		GracePeriod:     cfg.Run.GracePeriod,
		JoinTimeout:     cfg.Run.JoinTimeout,
		ProducerTimeout: cfg.Run.ProducerTimeout,
	}, client, client, newOracle(cfg.Progress, logger), newProducer(cfg, logger), store, logger, observers...)

	report.PrintBanner(os.Stdout, params)

	var res coordinator.Result
	srvCtx, stopServers := context.WithCancel(ctx)
	var g errgroup.Group
	if statusSrv != nil {
		g.Go(func() error {
			if err := statusSrv.Listen(srvCtx); err != nil {
				slog.Error("Status server failed, continuing without it", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopServers()
		res = coord.Run(ctx)
		return nil
	})
	_ = g.Wait()

	if err := store.Close(); err != nil {
		slog.Error("Failed to close snapshot file", "path", csvPath, "error", err)
	}

	outcome := res.Outcome()
	if metrics != nil {
		metrics.RecordProducer(string(res.Producer.Status), res.Producer.Duration)
		metrics.RecordRun(string(outcome))
	}

	report.PrintSummary(os.Stdout, params, res)

	line, err := json.Marshal(report.NewLine(params, res))
	if err != nil {
		slog.Error("Failed to marshal result", "error", err)
		return 2
	}
	if cfg.Run.JSONOut != "" {
		if err := report.AppendJSONLine(cfg.Run.JSONOut, line); err != nil {
			slog.Error("Failed to write result line", "error", err)
			return 2
		}
	}

	if !outcome.Pass() {
		return 1
	}
	return 0
}

func newOracle(cfg config.ProgressConfig, logger *slog.Logger) *progress.Oracle {
	var sources []progress.Source
	if cfg.HTTPURL != "" {
		sources = append(sources, progress.NewHTTPSource(cfg.HTTPURL, cfg.JSONPath, cfg.Timeout))
	}
	for _, path := range cfg.LogFiles {
		sources = append(sources, progress.NewLogSource(path, cfg.Marker, cfg.Delimiter))
	}
	if len(sources) == 0 {
		slog.Warn("No progress sources configured, processed count stays 0 and runs cannot complete")
	}
	return progress.NewOracle(logger, sources...)
}

func newProducer(cfg *config.Config, logger *slog.Logger) producer.Producer {
	if cfg.Producer.Mode == config.ProducerAMQP {
		return producer.NewAMQP(producer.AMQPConfig{
			URL:            cfg.Producer.AMQPURL,
			Queue:          cfg.Broker.Queue,
			Exchange:       cfg.Producer.Exchange,
			RoutingKey:     cfg.Producer.RoutingKey,
			Interval:       cfg.Producer.Interval,
			ConfirmTimeout: cfg.Producer.ConfirmTimeout,
		}, logger)
	}
	return producer.NewCommand(producer.CommandConfig{
		Command:   cfg.Producer.Command,
		Args:      cfg.Producer.Args,
		CountFlag: cfg.Producer.CountFlag,
		Dir:       cfg.Producer.Dir,
	}, logger)
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}
