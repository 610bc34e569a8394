package provision

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
)

// PortSSH is the remote-login port probed for bastion readiness.
const PortSSH = 22

var dialer = &net.Dialer{Timeout: 3 * time.Second}

// WaitTCP probes host:port until it accepts a connection. The caller bounds
// the wait via ctx; expiry surfaces as ErrProvisionTimeout.
func WaitTCP(ctx context.Context, host string, port int) error {
	log := clog.FromContext(ctx).With("host", host, "port", port)
	target := net.JoinHostPort(host, strconv.Itoa(port))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s: %w", ErrProvisionTimeout, target, ctx.Err())
		case <-ticker.C:
			conn, err := dialer.DialContext(ctx, "tcp", target)
			if err != nil {
				log.Debug("port not reachable yet", "error", err)
				continue
			}
			_ = conn.Close()
			log.Debug("port is reachable")
			return nil
		}
	}
}
