// prodbox provisions a throwaway EC2 bastion, tunnels to the target
// service's database and cache, and drops the developer into the service's
// container image wired up to both, with role credentials in the
// environment. Everything it creates is torn down when the container
// exits, whatever the exit path.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/client"

	"prodbox/internal/config"
	"prodbox/internal/session"
)

type opts struct {
	ConfigPath string
	MemoryGiB  int

	args []string
}

func parseFlags() *opts {
	opts := &opts{}

	flag.StringVar(&opts.ConfigPath, "c", config.DefaultPath, "Path to the configuration file")
	flag.IntVar(&opts.MemoryGiB, "m", 0, "Container memory limit in GiB (0 for unlimited)")

	flag.Parse()

	opts.args = flag.Args()
	return opts
}

func main() {
	opts := parseFlags()

	log := clog.New(slog.Default().Handler())
	ctx := clog.WithLogger(context.Background(), log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, opts)
	stop()
	if err != nil {
		log.Error("session failed", "error", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(int(code))
}

func run(ctx context.Context, opts *opts) (int64, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return 0, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return 0, fmt.Errorf("loading AWS configuration: %w", err)
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return 0, fmt.Errorf("connecting to Docker daemon: %w", err)
	}
	defer docker.Close()

	workdir, err := os.Getwd()
	if err != nil {
		return 0, fmt.Errorf("resolving working directory: %w", err)
	}

	s := session.New(cfg, awsCfg, docker, os.Stdin, os.Stdout, os.Stderr)
	return s.Run(ctx, session.Options{
		Args:      opts.args,
		Workdir:   workdir,
		MemoryGiB: opts.MemoryGiB,
	})
}
