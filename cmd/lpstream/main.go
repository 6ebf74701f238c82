package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/basekick-labs/lpstream/internal/api"
	"github.com/basekick-labs/lpstream/internal/config"
	"github.com/basekick-labs/lpstream/internal/ingest"
	"github.com/basekick-labs/lpstream/internal/logger"
	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/internal/mqtt"
	"github.com/basekick-labs/lpstream/internal/output"
	"github.com/basekick-labs/lpstream/internal/shutdown"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// Version is set at build time
var Version = "dev"

// sinkFlushInterval bounds how long parsed records sit in the output buffer
// while the gateway is idle.
const sinkFlushInterval = time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "parse":
			os.Exit(runParse(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "version":
			fmt.Println("lpstream", Version)
			return
		}
	}
	os.Exit(runServe(os.Args[1:]))
}

// runParse converts line protocol files (or stdin) to the chosen output
// format on stdout. Malformed lines are logged to stderr and skipped.
func runParse(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	escapesFlag := fs.String("escapes", "strict", "escape strategy: strict or compat")
	formatFlag := fs.String("format", "json", "output format: json, msgpack or lp")
	chunkSize := fs.Int("chunk-size", ingest.DefaultChunkSize, "read size in bytes")
	maxLine := fs.String("max-line-length", "1MB", "longest accepted line (0 disables)")
	maxDecompressed := fs.String("max-decompressed-size", "1GB", "decompressed size limit per input")
	logLevel := fs.String("log-level", "warn", "log level for diagnostics")
	showStats := fs.Bool("stats", false, "print per-input statistics to stderr as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger.SetupWriter(*logLevel, "console", stderr)

	escapes, err := lineprotocol.ParseEscapeStrategy(*escapesFlag)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	format, err := output.ParseFormat(*formatFlag)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	maxLineLength, err := config.ParseSize(*maxLine)
	if err != nil {
		fmt.Fprintf(stderr, "error: invalid --max-line-length: %v\n", err)
		return 2
	}
	decompressLimit, err := config.ParseSize(*maxDecompressed)
	if err != nil {
		fmt.Fprintf(stderr, "error: invalid --max-decompressed-size: %v\n", err)
		return 2
	}

	sink, err := output.NewSink(format, nopWriteCloser{stdout}, escapes, logger.Get("output"))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	defer sink.Close()

	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	ctx := context.Background()
	status := 0
	for _, input := range inputs {
		stats, err := parseInput(ctx, input, stdin, sink, ingest.DecoderConfig{
			Escapes:            escapes,
			ChunkSize:          *chunkSize,
			MaxLineLength:      maxLineLength,
			TerminateFinalLine: true,
		}, decompressLimit)
		if *showStats {
			line, _ := json.Marshal(map[string]interface{}{"input": input, "stats": stats})
			fmt.Fprintln(stderr, string(line))
		}
		if err != nil {
			fmt.Fprintf(stderr, "error: %s: %v\n", input, err)
			status = 1
		}
	}

	if err := sink.Close(); err != nil {
		fmt.Fprintf(stderr, "error: write output: %v\n", err)
		return 1
	}
	return status
}

// parseInput decodes one input into sink. "-" reads stdin.
func parseInput(ctx context.Context, input string, stdin io.Reader, sink *output.Sink, cfg ingest.DecoderConfig, limit int64) (ingest.Stats, error) {
	var r io.Reader = stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return ingest.Stats{}, err
		}
		defer f.Close()
		r = f
	}

	rc, _, err := ingest.NewReader(r, "", limit)
	if err != nil {
		return ingest.Stats{}, err
	}
	defer rc.Close()

	const batchSize = 1024
	batch := make([]*models.Record, 0, batchSize)
	stats, err := ingest.NewDecoder(cfg).Decode(ctx, rc, func(rec *models.Record) error {
		batch = append(batch, rec)
		if len(batch) < batchSize {
			return nil
		}
		werr := sink.Write(batch)
		batch = batch[:0]
		return werr
	})
	if len(batch) > 0 {
		if werr := sink.Write(batch); werr != nil && err == nil {
			err = werr
		}
	}
	return stats, err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// runServe runs the gateway: HTTP write endpoints plus an optional MQTT
// subscriber, both feeding the configured output.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to lpstream.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting lpstream...")

	metrics.Init(logger.Get("metrics"))

	// Validated by config.Load.
	escapes, _ := lineprotocol.ParseEscapeStrategy(cfg.Parser.EscapeStrategy)
	format, _ := output.ParseFormat(cfg.Output.Format)

	shutdownCoordinator := shutdown.New(time.Duration(cfg.Shutdown.TimeoutSeconds)*time.Second, logger.Get("shutdown"))

	sink, err := output.OpenSink(output.SinkConfig{
		Format:  format,
		Path:    cfg.Output.Path,
		Escapes: escapes,
	}, logger.Get("output"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open output")
		return 1
	}
	shutdownCoordinator.Register("sink", sink, shutdown.PrioritySink)
	log.Info().
		Str("format", string(format)).
		Str("path", cfg.Output.Path).
		Msg("Output opened")

	series := ingest.NewSeriesTracker(ingest.DefaultMaxSeries)

	collector := metrics.NewTimeSeriesCollector(30*time.Minute, 5*time.Second)
	collector.Start()
	shutdownCoordinator.RegisterHook("timeseries-collector", func(ctx context.Context) error {
		collector.Stop()
		return nil
	}, shutdown.PriorityCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(&api.ServerConfig{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxPayloadSize: cfg.Server.MaxPayloadSize,
			TLSEnabled:     cfg.Server.TLSEnabled,
			TLSCertFile:    cfg.Server.TLSCertFile,
			TLSKeyFile:     cfg.Server.TLSKeyFile,
		}, logger.Get("api"))
		server.SetTimeSeriesCollector(collector)
		server.RegisterRoutes()

		lpHandler := api.NewLineProtocolHandler(api.LineProtocolConfig{
			Escapes:             escapes,
			ChunkSize:           cfg.Parser.ChunkSize,
			MaxLineLength:       cfg.Parser.MaxLineLength,
			MaxDecompressedSize: cfg.Server.MaxPayloadSize,
		}, sink, series, logger.Get("lineprotocol"))
		lpHandler.RegisterRoutes(server.GetApp())
	}

	if cfg.MQTT.Enabled {
		sub := &mqtt.Subscription{
			Broker:                cfg.MQTT.Broker,
			ClientID:              cfg.MQTT.ClientID,
			Topics:                cfg.MQTT.Topics,
			QoS:                   cfg.MQTT.QoS,
			Username:              cfg.MQTT.Username,
			Password:              cfg.MQTT.Password,
			TLSEnabled:            cfg.MQTT.TLSEnabled,
			TLSCertPath:           cfg.MQTT.TLSCertPath,
			TLSKeyPath:            cfg.MQTT.TLSKeyPath,
			TLSCAPath:             cfg.MQTT.TLSCAPath,
			TLSInsecureSkipVerify: cfg.MQTT.TLSInsecureSkipVerify,
			KeepAliveSeconds:      cfg.MQTT.KeepAliveSeconds,
			ConnectTimeoutSeconds: cfg.MQTT.ConnectTimeoutSeconds,
			ReconnectMaxSeconds:   cfg.MQTT.ReconnectMaxSeconds,
			TerminateMessages:     cfg.MQTT.TerminateMessages,
		}
		sub.SetDefaults()
		if err := sub.Validate(); err != nil {
			log.Error().Err(err).Msg("Invalid MQTT configuration")
			return 1
		}

		subscriber := mqtt.NewSubscriber(sub, mqtt.ParserConfig{
			Escapes:       escapes,
			MaxLineLength: cfg.Parser.MaxLineLength,
		}, sink, series, logger.Get("mqtt"))
		if err := subscriber.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start MQTT subscriber")
			return 1
		}
		shutdownCoordinator.Register("mqtt", subscriber, shutdown.PriorityMQTT)

		if server != nil {
			api.NewMQTTHandler(subscriber, logger.Get("mqtt-api")).RegisterRoutes(server.GetApp())
			server.AddReadinessCheck("mqtt", subscriber.Ready)
		}
	}

	if server != nil {
		shutdownCoordinator.RegisterHook("http-server", server.Shutdown, shutdown.PriorityHTTPServer)
		g.Go(server.Serve)
	} else if !cfg.MQTT.Enabled {
		log.Error().Msg("Nothing to do: both server and mqtt are disabled")
		shutdownCoordinator.Shutdown()
		return 1
	}

	g.Go(func() error {
		ticker := time.NewTicker(sinkFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-shutdownCoordinator.Done():
				return nil
			case <-ticker.C:
				if err := sink.Flush(); err != nil {
					log.Warn().Err(err).Msg("Failed to flush output")
				}
			}
		}
	})

	log.Info().
		Bool("http", cfg.Server.Enabled).
		Int("port", cfg.Server.Port).
		Bool("mqtt", cfg.MQTT.Enabled).
		Str("escapes", escapes.String()).
		Msg("lpstream is ready!")

	// A listener failure ends the wait the same way a signal does.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCoordinator.TriggerShutdown()
		return nil
	})

	sig := shutdownCoordinator.WaitForSignal(gctx)
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	status := 0
	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		status = 1
	}
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Server error")
		status = 1
	}

	log.Info().Msg("lpstream shutdown complete")
	return status
}
