package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camnode/internal/broker"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/spf13/cobra"
)

// fileConfig mirrors the sections of config.toml.
type fileConfig struct {
	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`
	Auth struct {
		Username string `toml:"username"`
		Password string `toml:"password"`
	} `toml:"auth"`
	Camera struct {
		FrameTimeoutMs       int `toml:"frame_timeout_ms"`
		QueueSize            int `toml:"queue_size"`
		OverflowLimit        int `toml:"overflow_limit"`
		ReconnectInitialMs   int `toml:"reconnect_initial_ms"`
		ReconnectMaxMs       int `toml:"reconnect_max_ms"`
		ReconnectMaxElapsedS int `toml:"reconnect_max_elapsed_s"`
	} `toml:"camera"`
	Sim struct {
		Cameras int     `toml:"cameras"`
		FPS     float64 `toml:"fps"`
		Width   int     `toml:"width"`
		Height  int     `toml:"height"`
		Mono    bool    `toml:"mono"`
	} `toml:"sim"`
	Broker struct {
		Kind         string `toml:"kind"`
		URL          string `toml:"url"`
		TopicPrefix  string `toml:"topic_prefix"`
		QoS          int    `toml:"qos"`
		ClientID     string `toml:"client_id"`
		EmbeddedPort int    `toml:"embedded_port"`
	} `toml:"broker"`
	Params struct {
		File string `toml:"file"`
	} `toml:"params"`
	Metrics struct {
		Enabled bool `toml:"enabled"`
	} `toml:"metrics"`
	Debug struct {
		Faults bool `toml:"faults"`
	} `toml:"debug"`
	Logging struct {
		Level   string `toml:"level"`
		Format  string `toml:"format"`
		Session string `toml:"session"`
		Frames  string `toml:"frames"`
		Device  string `toml:"device"`
		Broker  string `toml:"broker"`
		API     string `toml:"api"`
		Metrics string `toml:"metrics"`
		Config  string `toml:"config"`
		Buffer  int    `toml:"buffer_size"`
	} `toml:"logging"`
}

// ValidateConfig checks a configuration file and returns every problem
// found. Unknown keys are reported as problems.
func ValidateConfig(data []byte) []error {
	var cfg fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return []error{fmt.Errorf("unknown keys:\n%s", strict.String())}
		}
		return []error{fmt.Errorf("parse: %w", err)}
	}

	var problems []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, args...))
		}
	}

	c := cfg.Camera
	check(c.FrameTimeoutMs >= 0, "camera.frame_timeout_ms must not be negative")
	check(c.QueueSize >= 0, "camera.queue_size must not be negative")
	check(c.OverflowLimit >= 0, "camera.overflow_limit must not be negative")
	check(c.ReconnectInitialMs >= 0 && c.ReconnectMaxMs >= 0 && c.ReconnectMaxElapsedS >= 0,
		"camera.reconnect_* must not be negative")
	check(c.ReconnectMaxMs == 0 || c.ReconnectInitialMs <= c.ReconnectMaxMs,
		"camera.reconnect_initial_ms (%d) exceeds camera.reconnect_max_ms (%d)", c.ReconnectInitialMs, c.ReconnectMaxMs)

	s := cfg.Sim
	check(s.Cameras >= 0, "sim.cameras must not be negative")
	check(s.FPS >= 0 && s.FPS <= 1000, "sim.fps must be within [0, 1000]")
	check(s.Width >= 0 && s.Height >= 0, "sim.width and sim.height must not be negative")

	b := cfg.Broker
	switch strings.ToLower(b.Kind) {
	case "", broker.KindNone, broker.KindEmbedded:
	case broker.KindMQTT, broker.KindNATS:
		check(b.URL != "", "broker.url is required for broker.kind %q", b.Kind)
	default:
		check(false, "broker.kind %q is not one of none, mqtt, nats, embedded", b.Kind)
	}
	check(b.QoS >= 0 && b.QoS <= 2, "broker.qos must be 0, 1 or 2")

	check((cfg.Auth.Username == "") == (cfg.Auth.Password == ""),
		"auth.username and auth.password must be set together")

	l := cfg.Logging
	check(l.Format == "" || l.Format == "text" || l.Format == "json",
		"logging.format %q is not text or json", l.Format)
	check(l.Buffer >= 0, "logging.buffer_size must not be negative")
	levels := map[string]string{
		"level": l.Level, "session": l.Session, "frames": l.Frames, "device": l.Device,
		"broker": l.Broker, "api": l.API, "metrics": l.Metrics, "config": l.Config,
	}
	for _, key := range []string{"level", "session", "frames", "device", "broker", "api", "metrics", "config"} {
		if v := levels[key]; v != "" {
			check(logging.ValidLevel(v), "logging.%s %q is not debug, info, warn or error", key, v)
		}
	}
	return problems
}

// CreateValidateConfigCmd creates the validate-config command.
func CreateValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config [file]",
		Short: "Check a configuration file",
		Long:  `Parses the configuration file and reports unknown keys and out of range values without starting the server.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path := "config.toml"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			problems := ValidateConfig(data)
			if len(problems) == 0 {
				fmt.Fprintf(c.OutOrStdout(), "%s: ok\n", path)
				return nil
			}
			for _, p := range problems {
				fmt.Fprintf(c.ErrOrStderr(), "%s: %v\n", path, p)
			}
			return fmt.Errorf("%s: %d problem(s)", path, len(problems))
		},
	}
}
