package container

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// LocalHostAlias is how the launched container reaches sockets bound on the
// developer's machine, i.e. the local ends of the tunnels.
const LocalHostAlias = "host.docker.internal"

var ErrRewrite = fmt.Errorf("failed to rewrite connection URL")

// RewriteURL points a connection URL at the local end of a tunnel: the
// authority's host:port is replaced with host.docker.internal:localPort
// while scheme, userinfo, path and query are preserved.
func RewriteURL(raw string, localPort int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrRewrite, raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrRewrite, raw)
	}
	u.Host = net.JoinHostPort(LocalHostAlias, strconv.Itoa(localPort))
	return u.String(), nil
}
