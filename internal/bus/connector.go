package bus

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
	hclog "github.com/hashicorp/go-hclog"
)

// Connector attaches a Server to a real message bus, reconnecting with
// exponential backoff when the bus drops. The dial function is injectable
// so tests (and bus-less hosts) never touch a real daemon.
type Connector struct {
	server *Server
	log    hclog.Logger

	// Dial opens a bus connection; defaults to the system bus.
	Dial func() (*dbus.Conn, error)
}

// NewConnector returns a Connector for srv.
func NewConnector(srv *Server, logger hclog.Logger) *Connector {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Connector{
		server: srv,
		log:    logger.Named("bus-connector"),
		Dial:   dbus.SystemBus,
	}
}

// Run keeps a bus connection alive until ctx is cancelled. Each
// established connection exports the server and claims the well-known
// name; when the connection dies the backoff loop dials again.
func (c *Connector) Run(ctx context.Context) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	return backoff.Retry(func() error {
		conn, err := c.Dial()
		if err != nil {
			c.log.Warn("bus dial failed, will retry", "error", err)
			return err
		}
		defer conn.Close()

		if err := c.export(conn); err != nil {
			c.log.Error("bus export failed", "error", err)
			return err
		}
		c.log.Info("connected to message bus", "name", BusName)

		// Hold the connection until it drops or we are told to stop.
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-connClosed(conn):
			c.log.Warn("bus connection lost, reconnecting")
			return context.Canceled // any non-permanent error retries
		}
	}, policy)
}

func (c *Connector) export(conn *dbus.Conn) error {
	if err := conn.Export(c.server, ManagerPath, BusName+".Manager"); err != nil {
		return err
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		c.log.Warn("bus name already owned, serving unnamed", "name", BusName)
	}
	return nil
}

// connClosed returns a channel that closes when conn's signal stream ends,
// which is how godbus surfaces a dead connection.
func connClosed(conn *dbus.Conn) <-chan struct{} {
	done := make(chan struct{})
	sig := make(chan *dbus.Signal, 16)
	conn.Signal(sig)
	go func() {
		for range sig {
		}
		close(done)
	}()
	return done
}
