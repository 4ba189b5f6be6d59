package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/dataforge-io/serieshub/common"
	"github.com/dataforge-io/serieshub/hub"
	"github.com/dataforge-io/serieshub/metric"
	"github.com/dataforge-io/serieshub/poller"
	"github.com/dataforge-io/serieshub/series"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
}

var cmdArgs cliArgs

var logTags log.Fields

func main() {
	logTags = log.Fields{
		"module": "main", "component": "replay-demo",
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "replay a recorded dataset as a live subscription feed",
		Description: "Serves a looping time-series dataset through the subscription hub",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				DefaultText: "warn",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			// CONFIG
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Config file of the replay system",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
		},
		Action: runReplayDemo,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging prepare the logger per CLI args
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

func runReplayDemo(c *cli.Context) error {
	validate := validator.New()
	if err := validate.Struct(&cmdArgs); err != nil {
		return err
	}
	setupLogging()

	// Process the config
	if cmdArgs.ConfigFile != "" {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return err
		}
	}
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to parse config")
		return err
	}
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Config file content is not valid")
		return err
	}

	runtimeContext, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	defer wg.Wait()

	// Metrics
	metrics := metric.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to register metrics")
		return err
	}
	metricServer, err := metric.NewServer(
		config.Metrics.ListenOn, config.Metrics.Port, config.Metrics.Path, registry,
	)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = metricServer.Start()
	}()
	defer func() {
		shutdownCtxt, shutdownCancel := context.WithTimeout(context.Background(), time.Second*5)
		defer shutdownCancel()
		_ = metricServer.Shutdown(shutdownCtxt)
	}()

	// Series store
	source, err := os.Open(config.Source.File)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to open source file %s", config.Source.File,
		)
		return err
	}
	store, err := series.LoadStore("replay-demo", series.LoaderConfig{
		Source:          source,
		TimeZone:        config.Source.TimeZone,
		TimestampFormat: config.Source.TimestampFormat,
		TimestampColumn: config.Source.TimestampColumn,
		EnableLooping:   config.Source.EnableLooping,
	}, &metrics.Store)
	_ = source.Close()
	if err != nil {
		return err
	}

	// Subscription hub
	valueHub, err := hub.GetSubscriptionHubInstance(
		"replay-demo",
		config.Hub.QueueDepth,
		config.Hub.TaskBuffer,
		&metrics.Hub,
		&wg,
		runtimeContext,
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = valueHub.Stop()
	}()

	// Poll every known series
	definitions, err := store.FindSeries("", runtimeContext)
	if err != nil {
		return err
	}
	seriesIDs := make([]string, 0, len(definitions))
	for _, definition := range definitions {
		seriesIDs = append(seriesIDs, definition.ID)
	}
	changePoller, err := poller.GetSnapshotPollerInstance(
		"replay-demo", store, valueHub, seriesIDs, &metrics.Poller, &wg, runtimeContext,
	)
	if err != nil {
		return err
	}
	if err := changePoller.Start(
		time.Millisecond * time.Duration(config.Poller.IntervalMS),
	); err != nil {
		return err
	}
	defer func() {
		_ = changePoller.Stop()
	}()

	// Print every pushed change
	subscription, err := valueHub.Subscribe("replay-demo", nil, runtimeContext)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			envelope, err := subscription.Receive(runtimeContext)
			if err != nil {
				return
			}
			sample, ok := envelope.Value.(series.Sample)
			if !ok {
				continue
			}
			if sample.Label != "" {
				fmt.Printf(
					"%s %s = %s\n",
					sample.Timestamp.Format(time.RFC3339), sample.SeriesID, sample.Label,
				)
			} else {
				fmt.Printf(
					"%s %s = %g\n",
					sample.Timestamp.Format(time.RFC3339), sample.SeriesID, sample.Value,
				)
			}
		}
	}()

	cc := make(chan os.Signal, 1)
	signal.Notify(cc, os.Interrupt)
	<-cc
	log.WithFields(logTags).Info("Stopping replay demo")
	return nil
}
