package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camnode/cmd"
	"github.com/smazurov/camnode/internal/api"
	"github.com/smazurov/camnode/internal/broker"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/config"
	"github.com/smazurov/camnode/internal/device/sim"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/metrics/collectors"
	"github.com/smazurov/camnode/internal/metrics/exporters"
	"github.com/smazurov/camnode/internal/params"
	"github.com/smazurov/camnode/internal/session"
	"github.com/smazurov/camnode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Capture settings
	CameraFrameTimeoutMs       int `help:"Acquisition wait per frame in milliseconds" default:"500" toml:"camera.frame_timeout_ms" env:"CAMERA_FRAME_TIMEOUT_MS"`
	CameraQueueSize            int `help:"Per-subscriber frame queue" default:"4" toml:"camera.queue_size" env:"CAMERA_QUEUE_SIZE"`
	CameraOverflowLimit        int `help:"Consecutive overflows before a subscriber is closed" default:"30" toml:"camera.overflow_limit" env:"CAMERA_OVERFLOW_LIMIT"`
	CameraReconnectInitialMs   int `help:"First reconnect delay in milliseconds" default:"250" toml:"camera.reconnect_initial_ms" env:"CAMERA_RECONNECT_INITIAL_MS"`
	CameraReconnectMaxMs       int `help:"Reconnect delay cap in milliseconds" default:"5000" toml:"camera.reconnect_max_ms" env:"CAMERA_RECONNECT_MAX_MS"`
	CameraReconnectMaxElapsedS int `help:"Give up reconnecting after this many seconds" default:"30" toml:"camera.reconnect_max_elapsed_s" env:"CAMERA_RECONNECT_MAX_ELAPSED_S"`

	// Simulated camera settings
	SimCameras int  `help:"Number of simulated cameras" default:"1" toml:"sim.cameras" env:"SIM_CAMERAS"`
	SimFPS     int  `help:"Simulated frame rate" default:"30" toml:"sim.fps" env:"SIM_FPS"`
	SimWidth   int  `help:"Simulated sensor width" default:"640" toml:"sim.width" env:"SIM_WIDTH"`
	SimHeight  int  `help:"Simulated sensor height" default:"480" toml:"sim.height" env:"SIM_HEIGHT"`
	SimMono    bool `help:"Simulate mono sensors" default:"false" toml:"sim.mono" env:"SIM_MONO"`

	// Broker settings
	BrokerKind         string `help:"Event broker (none, mqtt, nats, embedded)" default:"none" toml:"broker.kind" env:"BROKER_KIND"`
	BrokerURL          string `help:"Broker URL" default:"" toml:"broker.url" env:"BROKER_URL"`
	BrokerTopicPrefix  string `help:"Topic prefix for camera events" default:"camera" toml:"broker.topic_prefix" env:"BROKER_TOPIC_PREFIX"`
	BrokerQoS          int    `help:"MQTT quality of service" default:"0" toml:"broker.qos" env:"BROKER_QOS"`
	BrokerClientID     string `help:"Broker client id" default:"camnode" toml:"broker.client_id" env:"BROKER_CLIENT_ID"`
	BrokerEmbeddedPort int    `help:"Embedded NATS port" default:"4222" toml:"broker.embedded_port" env:"BROKER_EMBEDDED_PORT"`

	// Parameter sets
	ParamsFile string `help:"Parameter sets file" default:"parameters.toml" toml:"params.file" env:"PARAMS_FILE"`

	// Metrics settings
	MetricsEnabled bool `help:"Enable Prometheus metrics and SSE throughput events" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Fault injection against the simulated driver
	DebugFaults bool `help:"Expose /api/debug fault injection routes" default:"false" toml:"debug.faults" env:"DEBUG_FAULTS"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingFrames  string `help:"Frame distribution logging level" default:"info" toml:"logging.frames" env:"LOGGING_FRAMES"`
	LoggingDevice  string `help:"Device adapter logging level" default:"info" toml:"logging.device" env:"LOGGING_DEVICE"`
	LoggingBroker  string `help:"Broker logging level" default:"info" toml:"logging.broker" env:"LOGGING_BROKER"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingMetrics string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingBuffer  int    `help:"Log entries kept for /api/logs" default:"1000" toml:"logging.buffer_size" env:"LOGGING_BUFFER_SIZE"`
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:      opts.LoggingLevel,
			Format:     opts.LoggingFormat,
			BufferSize: opts.LoggingBuffer,
			Modules: map[string]string{
				"session": opts.LoggingSession,
				"frames":  opts.LoggingFrames,
				"device":  opts.LoggingDevice,
				"broker":  opts.LoggingBroker,
				"api":     opts.LoggingAPI,
				"metrics": opts.LoggingMetrics,
				"config":  opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")

		// In-process event bus; log entries are republished for the log stream
		eventBus := events.New()
		logging.SetLogCallback(api.LogEventBridge(eventBus))

		publisher := events.NewPublisher(eventBus, nil, events.PublisherOptions{
			TopicPrefix: opts.BrokerTopicPrefix,
			Logger:      logging.GetLogger("broker"),
		})
		brokers := broker.NewSwitcher(func(b broker.Broker) {
			publisher.SetSink(b)
		}, logging.GetLogger("broker"))

		paramStore := params.NewStore(opts.ParamsFile)
		if loadErr := paramStore.Load(); loadErr != nil {
			logger.Warn("Failed to load parameter sets", "file", opts.ParamsFile, "error", loadErr)
		}

		driver := sim.New(sim.Options{
			Cameras: opts.SimCameras,
			FPS:     float64(opts.SimFPS),
			Width:   opts.SimWidth,
			Height:  opts.SimHeight,
			Mono:    opts.SimMono,
		})

		manager := cameras.NewManager(cameras.Options{
			Driver: driver,
			Session: session.Options{
				FrameTimeout:  time.Duration(opts.CameraFrameTimeoutMs) * time.Millisecond,
				QueueSize:     opts.CameraQueueSize,
				OverflowLimit: opts.CameraOverflowLimit,
				Reconnect: session.ReconnectConfig{
					InitialDelay: time.Duration(opts.CameraReconnectInitialMs) * time.Millisecond,
					MaxDelay:     time.Duration(opts.CameraReconnectMaxMs) * time.Millisecond,
					MaxElapsed:   time.Duration(opts.CameraReconnectMaxElapsedS) * time.Second,
				},
			},
			Emitter: publisher,
			Params:  paramStore,
			Logger:  logging.GetLogger("session"),
		})

		var collector *collectors.CameraCollector
		var sseExporter *exporters.SSEExporter
		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Cameras:      manager,
			EventBus:     eventBus,
			Publisher:    publisher,
			Broker:       brokers,
		}
		if opts.MetricsEnabled {
			collector = collectors.NewCameraCollector(manager)
			sseExporter = exporters.NewSSEExporter(eventBus)
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		if opts.DebugFaults {
			logger.Warn("Fault injection routes enabled")
			apiOpts.Faults = driver
		}

		server := api.NewServer(apiOpts)

		// Logging levels follow edits to the config file
		watcher := config.NewLoggingWatcher(opts.Config, logging.GetLogger("config"))
		// Parameter sets follow hand edits of the parameters file
		paramsWatcher := config.NewParamsWatcher(paramStore, logging.GetLogger("config"))

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			publisher.Start()

			if _, switchErr := brokers.Switch(broker.Config{
				Kind:         opts.BrokerKind,
				URL:          opts.BrokerURL,
				ClientID:     opts.BrokerClientID,
				QoS:          byte(opts.BrokerQoS),
				EmbeddedPort: opts.BrokerEmbeddedPort,
			}); switchErr != nil {
				logger.Warn("Event broker unavailable, continuing without it", "kind", opts.BrokerKind, "error", switchErr)
			}

			if collector != nil {
				if startErr := collector.Start(ctx); startErr != nil {
					logger.Warn("Failed to start camera collector", "error", startErr)
				}
				sseExporter.Start(ctx)
			}

			if _, statErr := os.Stat(opts.Config); statErr == nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
				}
			}
			if startErr := paramsWatcher.Start(); startErr != nil {
				logger.Warn("Failed to start parameters watcher", "file", opts.ParamsFile, "error", startErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "cameras", opts.SimCameras)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Release cameras after the API stops accepting requests
			manager.Shutdown()

			_ = watcher.Stop()
			_ = paramsWatcher.Stop()
			if collector != nil {
				sseExporter.Stop()
				if stopErr := collector.Stop(); stopErr != nil {
					logger.Warn("Error stopping camera collector", "error", stopErr)
				}
			}
			cancel()

			// Flush queued events before the broker goes away
			publisher.Stop()
			brokers.Close()
		})
	})

	cli.Root().Use = "camnode"
	cli.Root().Short = "Camera session and frame distribution server"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateDiscoverCmd())
	cli.Root().AddCommand(cmd.CreateSnapCmd())
	cli.Root().AddCommand(cmd.CreateValidateConfigCmd())

	// Run the CLI
	cli.Run()
}
