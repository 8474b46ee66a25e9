package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/omnicapture/cmd"
	"github.com/smazurov/omnicapture/internal/api"
	"github.com/smazurov/omnicapture/internal/audio"
	"github.com/smazurov/omnicapture/internal/broker"
	"github.com/smazurov/omnicapture/internal/capture"
	"github.com/smazurov/omnicapture/internal/config"
	"github.com/smazurov/omnicapture/internal/events"
	"github.com/smazurov/omnicapture/internal/history"
	"github.com/smazurov/omnicapture/internal/led"
	"github.com/smazurov/omnicapture/internal/logging"
	"github.com/smazurov/omnicapture/internal/metrics/collectors"
	"github.com/smazurov/omnicapture/internal/metrics/exporters"
	"github.com/smazurov/omnicapture/internal/nvenc"
	"github.com/smazurov/omnicapture/internal/nvenc/ffmpegrt"
	"github.com/smazurov/omnicapture/internal/preview"
	"github.com/smazurov/omnicapture/internal/settings"
	"github.com/smazurov/omnicapture/internal/store"
	"github.com/smazurov/omnicapture/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"omnicapture.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	CaptureSettingsFile string `help:"Capture settings file (hot reloaded)" default:"capture.toml" toml:"capture.settings_file" env:"CAPTURE_SETTINGS_FILE"`
	CaptureOutputRoot   string `help:"Base directory for relative output directories" default:"" toml:"capture.output_root" env:"CAPTURE_OUTPUT_ROOT"`
	CaptureToneAudio    bool   `help:"Record a synthetic tone when audio is enabled" default:"true" toml:"capture.tone_audio" env:"CAPTURE_TONE_AUDIO"`

	// Encoder settings
	NVENCRuntimeDir   string `help:"Directory searched for the encoder runtime" default:"" toml:"nvenc.runtime_dir" env:"NVENC_RUNTIME_DIR"`
	NVENCReportFile   string `help:"Capability report file" default:"capabilities.toml" toml:"nvenc.report_file" env:"NVENC_REPORT_FILE"`
	NVENCProbeOnStart bool   `help:"Probe the encoder at startup" default:"true" toml:"nvenc.probe_on_start" env:"NVENC_PROBE_ON_START"`

	// History settings
	HistoryDatabase string `help:"Capture history database" default:"omnicapture.db" toml:"history.database" env:"HISTORY_DATABASE"`

	// Preview settings
	PreviewEnabled    bool   `help:"Enable WebRTC preview" default:"true" toml:"preview.enabled" env:"PREVIEW_ENABLED"`
	PreviewICEServers string `help:"Comma separated STUN/TURN URLs" default:"" toml:"preview.ice_servers" env:"PREVIEW_ICE_SERVERS"`

	// MQTT settings
	MQTTEnabled bool   `help:"Run the embedded MQTT broker" default:"false" toml:"mqtt.enabled" env:"MQTT_ENABLED"`
	MQTTAddress string `help:"MQTT listen address" default:":1883" toml:"mqtt.address" env:"MQTT_ADDRESS"`

	// Observability settings
	MetricsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesTallyLED string `help:"sysfs LED used as tally light (empty disables)" default:"" toml:"features.tally_led" env:"FEATURES_TALLY_LED"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture     string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingNVENC       string `help:"Encoder logging level" default:"info" toml:"logging.nvenc" env:"LOGGING_NVENC"`
	LoggingAudio       string `help:"Audio logging level" default:"info" toml:"logging.audio" env:"LOGGING_AUDIO"`
	LoggingMuxer       string `help:"Muxer logging level" default:"info" toml:"logging.muxer" env:"LOGGING_MUXER"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP        string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingPreview     string `help:"Preview logging level" default:"info" toml:"logging.preview" env:"LOGGING_PREVIEW"`
	LoggingHistory     string `help:"History logging level" default:"info" toml:"logging.history" env:"LOGGING_HISTORY"`
	LoggingConfig      string `help:"Config reload logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingMQTT        string `help:"MQTT logging level" default:"warn" toml:"logging.mqtt" env:"LOGGING_MQTT"`
	LoggingHistorySize int    `help:"Log entries kept for the API" default:"2000" toml:"logging.history_size" env:"LOGGING_HISTORY_SIZE"`
}

func iceServers(urls string) []pion.ICEServer {
	var servers []pion.ICEServer
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			servers = append(servers, pion.ICEServer{URLs: []string{u}})
		}
	}
	return servers
}

func main() {
	var cli humacli.CLI

	// Create Huma CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture": opts.LoggingCapture,
				"nvenc":   opts.LoggingNVENC,
				"audio":   opts.LoggingAudio,
				"muxer":   opts.LoggingMuxer,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"preview": opts.LoggingPreview,
				"history": opts.LoggingHistory,
				"config":  opts.LoggingConfig,
				"mqtt":    opts.LoggingMQTT,
			},
			HistorySize: opts.LoggingHistorySize,
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Forward buffered log entries to SSE subscribers
		var logSeq atomic.Uint64
		logging.SetEntryCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq.Add(1),
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Capture settings are re-read on change and apply to the next capture
		var current atomic.Pointer[settings.Settings]
		initial, err := settings.Load(opts.CaptureSettingsFile)
		if err != nil {
			logger.Warn("Failed to load capture settings, using defaults", "error", err, "path", opts.CaptureSettingsFile)
			initial = settings.Default()
		}
		current.Store(&initial)

		settingsWatcher := config.NewConfigWatcher(opts.CaptureSettingsFile, settings.Load, logging.GetLogger("config"))
		settingsWatcher.OnReload(func(s settings.Settings) {
			current.Store(&s)
			logger.Info("Capture settings reloaded", "output_format", s.OutputFormat, "codec", s.Codec)
		})

		// Encoder capability probe and its persisted report
		prober := nvenc.NewProber(ffmpegrt.NewLoader(), nvenc.WithBundledDirectory(opts.NVENCRuntimeDir))
		reportStore := store.NewTOML(opts.NVENCReportFile)
		if loadErr := reportStore.Load(); loadErr != nil {
			logger.Warn("Failed to load capability report", "error", loadErr)
		} else if caps, ok := reportStore.Latest(); ok {
			logger.Info("Last capability report", "summary", caps.Summary())
		}

		captureOpts := capture.Options{
			Prober:     prober,
			Bus:        eventBus,
			OutputRoot: opts.CaptureOutputRoot,
		}
		if opts.CaptureToneAudio {
			captureOpts.AudioSource = audio.NewToneSource()
		}
		controller := capture.New(captureOpts)

		// Metrics
		metricsCollector := collectors.NewCaptureCollector(eventBus, logging.GetLogger("metrics"))

		// Initialize tally light
		tally := led.New(logger, opts.FeaturesTallyLED)
		tallyManager := led.NewManager(tally, eventBus, logger)

		// Preview
		var previewManager *preview.Manager
		if opts.PreviewEnabled {
			previewManager, err = preview.NewManager(controller, preview.Config{
				ICEServers: iceServers(opts.PreviewICEServers),
			}, logging.GetLogger("preview"))
			if err != nil {
				logger.Warn("Preview disabled", "error", err)
				previewManager = nil
			}
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Capture:      controller,
			Capabilities: prober,
			Store:        reportStore,
			EventBus:     eventBus,
			Settings: func() settings.Settings {
				return *current.Load()
			},
		}
		if previewManager != nil {
			apiOpts.Preview = previewManager
		}
		if opts.FeaturesTallyLED != "" {
			apiOpts.Tally = tally
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}

		// Capture history
		historyStore, err := history.Open(context.Background(), opts.HistoryDatabase)
		var historyRecorder *history.Recorder
		if err != nil {
			logger.Warn("Capture history disabled", "error", err, "path", opts.HistoryDatabase)
		} else {
			historyRecorder = history.NewRecorder(historyStore, eventBus, logging.GetLogger("history"))
			apiOpts.History = historyStore
		}

		server := api.NewServer(apiOpts)

		// Remote control and event mirror over MQTT
		var (
			mqttServer *broker.Server
			mqttBridge *broker.Bridge
		)
		if opts.MQTTEnabled {
			mqttLogger := logging.GetLogger("mqtt")
			mqttServer = broker.NewServer(broker.ServerOptions{Address: opts.MQTTAddress, Logger: mqttLogger})
			mqttBridge = broker.NewBridge(mqttServer, eventBus, controller, apiOpts.Settings, mqttLogger)
		}

		notifier := systemd.NewNotifier(logger)
		ctx, cancelRun := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if historyRecorder != nil {
				historyRecorder.Start()
			}

			if startErr := settingsWatcher.Start(ctx); startErr != nil {
				logger.Warn("Capture settings will not be reloaded", "error", startErr)
			}

			metricsCollector.Start()
			tallyManager.Start()
			if mqttServer != nil {
				if startErr := mqttServer.Start(); startErr != nil {
					logger.Error("Failed to start MQTT broker", "error", startErr)
				} else if startErr := mqttBridge.Start(ctx); startErr != nil {
					logger.Error("Failed to start MQTT bridge", "error", startErr)
				}
			}
			if previewManager != nil {
				previewManager.Start(ctx)
			}
			go controller.Run(ctx)

			if opts.NVENCProbeOnStart {
				go func() {
					caps := prober.Query(ctx)
					logger.Info("Encoder capabilities", "summary", caps.Summary())
					if saveErr := reportStore.Save(caps); saveErr != nil {
						logger.Warn("Failed to save capability report", "error", saveErr)
					}
				}()
			}

			notifier.Ready(ctx)
			notifier.Status("Listening on %s", opts.Port)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Finalize a running capture before the producer goes away
			if endErr := controller.End(ctx, true); endErr != nil && !errors.Is(endErr, capture.ErrNotCapturing) {
				logger.Error("Failed to finalize capture", "error", endErr)
			}
			cancelRun()

			if previewManager != nil {
				previewManager.Stop()
			}
			if mqttServer != nil {
				mqttBridge.Stop()
				mqttServer.Stop()
			}
			tallyManager.Stop()
			metricsCollector.Stop()
			if stopErr := settingsWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping settings watcher", "error", stopErr)
			}

			if historyRecorder != nil {
				historyRecorder.Stop()
			}
			if historyStore != nil {
				if closeErr := historyStore.Close(); closeErr != nil {
					logger.Error("Error closing history database", "error", closeErr)
				}
			}
		})
	})

	cli.Root().Use = "omnicapture"
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateRecordCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
