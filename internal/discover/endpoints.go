package discover

import (
	"fmt"
	"net/url"
)

const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"

	defaultRedisPort = "6379"
)

var (
	ErrEnvMissing    = fmt.Errorf("connection URL missing from task definition environment")
	ErrURLUnparsable = fmt.Errorf("failed to parse connection URL")
)

// Endpoint is one remote data store as seen from inside the service's
// network, plus the original connection URL it was extracted from.
type Endpoint struct {
	Host string
	Port string
	URL  string
}

// Endpoints carries the two data stores a dev session tunnels to.
type Endpoints struct {
	Database Endpoint
	Cache    Endpoint
}

// ExtractEndpoints pulls DATABASE_URL and REDIS_URL out of a task
// definition's environment and parses out the remote hosts and ports.
// 'dbPort' is the configured fallback when DATABASE_URL carries no explicit
// port.
func ExtractEndpoints(env map[string]string, dbPort string) (Endpoints, error) {
	var eps Endpoints
	var err error
	eps.Database, err = endpointFromEnv(env, EnvDatabaseURL, dbPort)
	if err != nil {
		return eps, err
	}
	eps.Cache, err = endpointFromEnv(env, EnvRedisURL, defaultRedisPort)
	return eps, err
}

func endpointFromEnv(env map[string]string, key, defaultPort string) (Endpoint, error) {
	raw, ok := env[key]
	if !ok || raw == "" {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrEnvMissing, key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("%w: %s: %q", ErrURLUnparsable, key, raw)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return Endpoint{Host: u.Hostname(), Port: port, URL: raw}, nil
}
