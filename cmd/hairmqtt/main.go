// Hairmqtt bridges live iRacing telemetry to Home Assistant over MQTT.
//
// It reads the simulator's variable catalog, value ticks, and session
// document from a telemetry relay, announces a curated set of entities
// through Home Assistant MQTT discovery, and publishes their state.
// Configuration is loaded from a YAML file discovered automatically
// (see [config.DefaultSearchPaths]) and overridden from the environment
// and an optional .env file.
//
// Usage:
//
//	hairmqtt serve                 Run the bridge
//	hairmqtt paths <field> [idx]   Show where a session field lives
//	hairmqtt purge                 Retract every entity ever announced
//	hairmqtt version               Print version and build information
//	hairmqtt -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/treed/hairmqtt/internal/bridge"
	"github.com/treed/hairmqtt/internal/buildinfo"
	"github.com/treed/hairmqtt/internal/config"
	"github.com/treed/hairmqtt/internal/connwatch"
	"github.com/treed/hairmqtt/internal/discovery"
	"github.com/treed/hairmqtt/internal/metrics"
	"github.com/treed/hairmqtt/internal/mqtt"
	"github.com/treed/hairmqtt/internal/opstate"
	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

// ledgerFile is the discovery ledger inside the data directory.
const ledgerFile = "hairmqtt.db"

// eventBuffer absorbs short stalls in the bridge loop so the relay
// reader is not blocked by a slow publish.
const eventBuffer = 64

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every command.
type options struct {
	configPath string
	envPath    string
	envSet     bool
	outputFmt  string
}

// run is the real entry point. stdout receives logs and command output;
// stderr is reserved for the caller's fatal error. Arguments are parsed
// by hand so that tests can call run concurrently without the flag
// package's globals.
func run(ctx context.Context, stdout io.Writer, _ io.Writer, args []string) error {
	opts := options{envPath: ".env", outputFmt: "text"}
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-env" && i+1 < len(args):
			opts.envPath, opts.envSet = args[i+1], true
			i++
		case strings.HasPrefix(args[i], "-env="):
			opts.envPath, opts.envSet = strings.TrimPrefix(args[i], "-env="), true
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "paths":
		return runPaths(stdout, opts.outputFmt, cmdArgs)
	case "purge":
		return runPurge(ctx, stdout, opts)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range buildinfo.Keys {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}
	return nil
}

// runPaths prints the dotted location of a session field, the same
// lookup discovery uses to build value templates.
func runPaths(w io.Writer, outputFmt string, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: hairmqtt paths <field> [idx]")
	}
	field := args[0]
	idx := 0
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid index %q", args[1])
		}
		idx = n
	}

	path, ok := session.Resolver().Resolve(field, idx)
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(map[string]any{
			"field":    field,
			"idx":      idx,
			"found":    ok,
			"path":     path,
			"template": templateOrEmpty(path, ok),
		})
	}
	if !ok {
		return fmt.Errorf("field %q not found in the session document", field)
	}
	fmt.Fprintln(w, path)
	fmt.Fprintln(w, discovery.TemplateFor(path))
	return nil
}

func templateOrEmpty(path string, ok bool) string {
	if !ok {
		return ""
	}
	return discovery.TemplateFor(path)
}

// runPurge retracts every config topic in the discovery ledger. An
// empty ledger needs no broker.
func runPurge(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ledger, err := opstate.Open(filepath.Join(cfg.DataDir, ledgerFile))
	if err != nil {
		return fmt.Errorf("open discovery ledger: %w", err)
	}
	defer ledger.Close()

	entries, err := ledger.Entries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "nothing to purge")
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.ClientID(instanceID)+"-purge", logger)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		client.Stop(stopCtx)
	}()

	awaitCtx, awaitCancel := context.WithTimeout(ctx, 30*time.Second)
	defer awaitCancel()
	if err := client.AwaitConnection(awaitCtx); err != nil {
		return fmt.Errorf("await broker %s: %w", cfg.MQTT.BrokerURL(), err)
	}

	return retractAll(ctx, stdout, client, ledger, entries, logger)
}

// retracter removes one discovery config from the broker.
type retracter interface {
	Retract(ctx context.Context, topic string) error
}

// forgetter drops a retracted topic from the discovery ledger.
type forgetter interface {
	Forget(topic string) error
}

// ErrRetractFailed is returned when some topics could not be retracted.
// Their ledger rows are kept so a later purge can try again.
var ErrRetractFailed = errors.New("retraction failed")

// retractAll retracts every entry and forgets only the topics the
// broker accepted.
func retractAll(ctx context.Context, stdout io.Writer, r retracter, f forgetter, entries []opstate.Entry, logger *slog.Logger) error {
	var retracted, failed int
	for _, e := range entries {
		if err := r.Retract(ctx, e.Topic); err != nil {
			failed++
			logger.Warn("entity retraction failed, kept in ledger", "topic", e.Topic, "error", err)
			continue
		}
		if err := f.Forget(e.Topic); err != nil {
			return err
		}
		retracted++
		logger.Info("entity retracted", "topic", e.Topic, "unique_id", e.UniqueID)
	}
	fmt.Fprintf(stdout, "retracted %d entities\n", retracted)
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d entities kept for the next purge", ErrRetractFailed, failed, len(entries))
	}
	return nil
}

// runServe runs the bridge until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels the context
//  2. The telemetry source, bridge loop, and metrics server return
//  3. The disconnected payload is published and the broker link closed
//  4. The ledger is closed via defer
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	cfg, cfgPath, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(stdout, cfg)
	logger.Info("starting hairmqtt",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"broker", cfg.MQTT.BrokerURL(),
		"telemetry", cfg.Telemetry.URL,
		"discovery_prefix", cfg.MQTT.DiscoveryPrefix,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return err
	}

	ledger, err := opstate.Open(filepath.Join(cfg.DataDir, ledgerFile))
	if err != nil {
		return fmt.Errorf("open discovery ledger: %w", err)
	}
	defer ledger.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := mqtt.New(cfg.MQTT, mqtt.ClientID(instanceID), logger)
	if err != nil {
		return err
	}
	client.SetObserver(m)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := client.Stop(stopCtx); err != nil {
			logger.Warn("mqtt disconnect failed", "error", err)
		}
	}()

	source := telemetry.NewWSSource(cfg.Telemetry.URL, connwatch.DefaultBackoffConfig(), logger)

	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name: "mqtt",
		Probe: func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return client.AwaitConnection(awaitCtx)
		},
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  logger,
	})
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "telemetry",
		Probe:   source.Probe,
		Backoff: connwatch.DefaultBackoffConfig(),
		Logger:  logger,
	})

	b := bridge.New(client, bridge.Config{
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		Device:          mqtt.NewDeviceInfo(instanceID),
		RateHz:          cfg.Telemetry.RateHz,
	}, logger, bridge.WithLedger(ledger), bridge.WithMetrics(m))

	events := make(chan telemetry.Event, eventBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Run(gctx, events) })
	g.Go(func() error { return b.Run(gctx, events) })
	g.Go(func() error { return client.Keep(gctx) })
	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, reg, connMgr, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("hairmqtt stopped", "uptime", buildinfo.Uptime().String())
	return err
}

// loadConfig applies the layers in order: defaults, the YAML file if
// one is found, the .env file, then the process environment.
func loadConfig(opts options) (*config.Config, string, error) {
	if err := config.LoadDotEnv(opts.envPath); err != nil {
		// The default .env is optional; an explicit one is not.
		if opts.envSet || !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}

	cfgPath, err := config.FindConfig(opts.configPath)
	if err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// newLogger builds the process logger. An unknown level falls back to
// info; Validate reports it separately.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "hairmqtt - iRacing telemetry for Home Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hairmqtt [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Run the bridge")
	fmt.Fprintln(w, "  paths <field> [idx] Show the session path and template for a field")
	fmt.Fprintln(w, "  purge               Retract every entity in the discovery ledger")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -env <path>       Path to a .env file (default: ./.env if present)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./hairmqtt.yaml, ~/.config/hairmqtt/config.yaml, /etc/hairmqtt/config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  MQTT_HOST, MQTT_PORT, MQTT_USERNAME, MQTT_PASSWORD,")
	fmt.Fprintln(w, "  HAIRMQTT_TELEMETRY_URL, HAIRMQTT_LOG_LEVEL")
	return nil
}
