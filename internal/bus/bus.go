// Package bus is the in-process event channel on which the Process
// Manager publishes process-lifecycle notifications, per spec §9's
// "message-passing is one-way" note. Outside the tests nothing in this
// module subscribes to it; the Orchestrator's MONITOR stage and
// Recovery's health checks do not read from it. Grounded on the teacher's internal/nats package
// (EmbeddedServer + Client), collapsed into a single type: APEX runs the
// broker and every publisher/subscriber in one binary, so there is no
// need to keep the server and client halves separate the way the
// teacher does for its multi-process Captain/dashboard topology.
package bus

import (
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/nats-io/nats-server/v2/server"
)

// Config configures the embedded broker.
type Config struct {
	// Port is the TCP port the embedded broker listens on. 0 picks an
	// ephemeral port, which is what every production deployment should
	// use: the broker is never reached from outside this process tree.
	Port int
}

// Bus is an embedded NATS broker plus one connected client, giving
// every component in this binary a common event channel without
// standing up an external broker process.
type Bus struct {
	srv  *server.Server
	conn *nc.Conn
}

// Start brings up the embedded broker and connects a client to it.
func Start(cfg Config) (*Bus, error) {
	port := cfg.Port
	if port == 0 {
		port = server.RANDOM_PORT
	}
	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded bus: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("embedded bus not ready for connections")
	}

	conn, err := nc.Connect(ns.ClientURL(), nc.ReconnectWait(time.Second), nc.MaxReconnects(-1))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded bus: %w", err)
	}

	return &Bus{srv: ns, conn: conn}, nil
}

// Close disconnects the client and shuts the broker down.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}

// URL is the embedded broker's connection URL, for a second in-process
// client that wants its own connection (e.g. a CLI subcommand).
func (b *Bus) URL() string { return b.srv.ClientURL() }
