package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const (
	defaultEmbeddedHost = "127.0.0.1"
	defaultEmbeddedPort = 4222

	// Event payloads are small JSON documents; snapshots go over HTTP.
	embeddedMaxPayload = 1 << 20
	embeddedReadyWait  = 5 * time.Second
)

// Embedded is a NATS broker backed by an in-process server, for single
// host deployments where subscribers connect to camnode directly. The
// event client is the server's first connection.
type Embedded struct {
	*NATS
	ns     *server.Server
	logger *slog.Logger
}

// NewEmbeddedNATS starts a server from the embedded_* fields of cfg and
// connects the event client to it. The server is named after cfg.ClientID
// so subscribers can tell camnode hosts apart. A negative EmbeddedPort
// binds a free port.
func NewEmbeddedNATS(cfg Config, logger *slog.Logger) (*Embedded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	srvLogger := logger.With("component", "nats-server")

	ns, err := server.NewServer(embeddedOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	ns.SetLogger(natsLogger{srvLogger}, srvLogger.Enabled(context.Background(), slog.LevelDebug), false)

	go ns.Start()
	if !ns.ReadyForConnections(embeddedReadyWait) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", embeddedReadyWait)
	}
	srvLogger.Info("NATS server started", "name", ns.Name(), "url", ns.ClientURL())

	client := NewNATS(ns.ClientURL(), ns.Name()+"-events", logger)
	if err := client.Connect(); err != nil {
		ns.Shutdown()
		ns.WaitForShutdown()
		return nil, err
	}
	return &Embedded{NATS: client, ns: ns, logger: srvLogger}, nil
}

// embeddedOptions maps broker config onto server options.
func embeddedOptions(cfg Config) *server.Options {
	host := cfg.EmbeddedHost
	if host == "" {
		host = defaultEmbeddedHost
	}
	port := cfg.EmbeddedPort
	switch {
	case port == 0:
		port = defaultEmbeddedPort
	case port < 0:
		port = server.RANDOM_PORT
	}
	return &server.Options{
		ServerName:     serverName(cfg.ClientID),
		Host:           host,
		Port:           port,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     embeddedMaxPayload,
	}
}

// serverName turns a client id into a server name. Server names may not
// contain whitespace. An empty id falls back to the host name.
func serverName(clientID string) string {
	if name := strings.Join(strings.Fields(clientID), "-"); name != "" {
		return name
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return "camnode-" + strings.Join(strings.Fields(host), "-")
	}
	return "camnode"
}

// Kind returns "embedded".
func (e *Embedded) Kind() string { return KindEmbedded }

// Clients returns the number of client connections, the event client
// included.
func (e *Embedded) Clients() int { return e.ns.NumClients() }

// Running reports whether the server accepts connections.
func (e *Embedded) Running() bool { return e.ns.Running() }

// Close closes the event client and waits for the server to exit.
func (e *Embedded) Close() {
	e.NATS.Close()
	if e.ns.Running() {
		e.logger.Info("Stopping NATS server")
	}
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}

// natsLogger forwards server log lines to slog.
type natsLogger struct {
	logger *slog.Logger
}

func (l natsLogger) Noticef(format string, v ...any) { l.logger.Info(fmt.Sprintf(format, v...)) }
func (l natsLogger) Warnf(format string, v ...any)   { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l natsLogger) Errorf(format string, v ...any)  { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l natsLogger) Fatalf(format string, v ...any)  { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l natsLogger) Debugf(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
func (l natsLogger) Tracef(format string, v ...any)  { l.logger.Debug(fmt.Sprintf(format, v...)) }
