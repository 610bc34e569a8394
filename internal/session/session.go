// session sequences one prodbox run: resolve networking, launch the
// bastion, discover endpoints, open tunnels, pull the image, assume the
// role and drop into the container. It owns the teardown stack, so every
// acquired resource is released exactly once on any exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	awsecr "github.com/aws/aws-sdk-go-v2/service/ecr"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	awssts "github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"prodbox/internal/config"
	"prodbox/internal/container"
	"prodbox/internal/creds"
	"prodbox/internal/discover"
	"prodbox/internal/provision"
	"prodbox/internal/registry"
	"prodbox/internal/tunnel"
)

const (
	defaultAddressTimeout = 5 * time.Minute
	defaultSSHTimeout     = 5 * time.Minute
	defaultTunnelTimeout  = 30 * time.Second
)

// DockerAPI is the union of the Docker client surface the session needs:
// pulling the image and running the container.
type DockerAPI interface {
	registry.ImagePuller
	container.API
}

// Session carries the collaborators for one run. Production wiring comes
// from New; tests construct the struct directly with fakes.
type Session struct {
	Config *config.Config

	EC2     provision.EC2API
	ECS     discover.ECSAPI
	ECR     registry.ECRAPI
	STS     creds.STSAPI
	Docker  DockerAPI
	Tunnels tunnel.Opener

	// FreePort allocates local tunnel ports; Probe waits for a TCP port to
	// accept connections.
	FreePort func() (int, error)
	Probe    func(ctx context.Context, host string, port int) error

	AddressTimeout time.Duration
	SSHTimeout     time.Duration
	TunnelTimeout  time.Duration

	// PollInterval is forwarded to the bastion's address poll; tests
	// shrink it.
	PollInterval time.Duration

	// RunID names the per-run resources (instance, role session,
	// container).
	RunID string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	stack provision.Stack
}

// New wires a Session against real AWS clients, the local Docker daemon
// and the local ssh binary.
func New(cfg *config.Config, awsCfg aws.Config, docker *client.Client, stdin io.Reader, stdout, stderr io.Writer) *Session {
	return &Session{
		Config:   cfg,
		EC2:      awsec2.NewFromConfig(awsCfg),
		ECS:      awsecs.NewFromConfig(awsCfg),
		ECR:      awsecr.NewFromConfig(awsCfg),
		STS:      awssts.NewFromConfig(awsCfg),
		Docker:   docker,
		Tunnels:  tunnel.SSH{},
		FreePort: tunnel.FreePort,
		Probe:    provision.WaitTCP,
		RunID:    uuid.NewString()[:8],
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// Options are the per-invocation knobs from the command line.
type Options struct {
	// Args is appended to the image's default entrypoint.
	Args []string

	// Workdir is bind-mounted into the container.
	Workdir string

	// MemoryGiB caps container memory; 0 means unlimited.
	MemoryGiB int
}

// Run executes the whole pipeline and returns the container's exit code.
// Teardown always runs, and its errors are joined onto any step error.
func (s *Session) Run(ctx context.Context, opts Options) (code int64, err error) {
	defer func() {
		// Teardown must survive cancellation: a Ctrl-C arrives here with ctx
		// already done.
		terr := s.stack.Destroy(context.WithoutCancel(ctx))
		err = errors.Join(err, terr)
	}()

	log := clog.FromContext(ctx)
	cfg := s.Config

	if err := provision.EnsureKeyMode(cfg.Instance.SSHKey); err != nil {
		return 0, err
	}

	// Resolve the pre-existing networking objects.
	resolver := &provision.Resolver{Client: s.EC2}
	vpcID, err := resolver.ResolveVPC(ctx, cfg.Instance.VPCName)
	if err != nil {
		return 0, err
	}
	subnetID, err := resolver.ResolveSubnet(ctx, vpcID, cfg.Instance.PublicSubnetName)
	if err != nil {
		return 0, err
	}
	sshSG, err := resolver.ResolveSecurityGroup(ctx, vpcID, cfg.Instance.SSHableSecurityGroup)
	if err != nil {
		return 0, err
	}
	ecsSG, err := resolver.ResolveSecurityGroup(ctx, vpcID, cfg.ECS.SecurityGroup)
	if err != nil {
		return 0, err
	}

	// Launch the bastion and wait until we can SSH to it.
	bastion := &provision.Bastion{
		Client:           s.EC2,
		AMI:              cfg.Instance.AMI,
		KeypairName:      cfg.Instance.KeypairName,
		SubnetID:         subnetID,
		SecurityGroupIDs: []string{sshSG, ecsSG},
		Name:             "prodbox-" + s.RunID,
		PollInterval:     s.PollInterval,
	}
	if err := bastion.Launch(ctx, &s.stack); err != nil {
		return 0, err
	}
	addrCtx, cancel := context.WithTimeout(ctx, s.addressTimeout())
	ip, err := bastion.AwaitAddress(addrCtx)
	cancel()
	if err != nil {
		return 0, err
	}
	sshCtx, cancel := context.WithTimeout(ctx, s.sshTimeout())
	err = s.Probe(sshCtx, ip, provision.PortSSH)
	cancel()
	if err != nil {
		return 0, err
	}

	// Find the data stores behind the service.
	discoverer := &discover.Discoverer{Client: s.ECS}
	arn, err := discoverer.LatestTaskDefinition(ctx, cfg.ECS.Name)
	if err != nil {
		return 0, err
	}
	env, err := discoverer.ContainerEnv(ctx, arn)
	if err != nil {
		return 0, err
	}
	endpoints, err := discover.ExtractEndpoints(env, cfg.DatabasePort())
	if err != nil {
		return 0, err
	}

	// Tunnel to both of them through the bastion.
	dbPort, err := s.openTunnel(ctx, endpoints.Database, ip)
	if err != nil {
		return 0, err
	}
	cachePort, err := s.openTunnel(ctx, endpoints.Cache, ip)
	if err != nil {
		return 0, err
	}

	// Fetch the image and the credentials.
	reg := &registry.Client{ECR: s.ECR, Docker: s.Docker}
	auth, err := reg.AuthToken(ctx)
	if err != nil {
		return 0, err
	}
	uri, err := reg.FindImage(ctx, cfg.Docker.ImageName)
	if err != nil {
		return 0, err
	}
	imageRef := uri + ":latest"
	if err := reg.Pull(ctx, imageRef, auth); err != nil {
		return 0, err
	}
	assumed, err := creds.Assume(ctx, s.STS, cfg.ECS.ExecutionRole, "prodbox-"+s.RunID)
	if err != nil {
		return 0, err
	}

	// Point the connection URLs at the local tunnel ends.
	dbURL, err := container.RewriteURL(endpoints.Database.URL, dbPort)
	if err != nil {
		return 0, err
	}
	cacheURL, err := container.RewriteURL(endpoints.Cache.URL, cachePort)
	if err != nil {
		return 0, err
	}

	log.Info("launching container", "image", imageRef)
	return container.Run(ctx, s.Docker, container.Options{
		Image: imageRef,
		Name:  "prodbox-" + s.RunID,
		Env: []string{
			"DATABASE_URL=" + dbURL,
			"REDIS_URL=" + cacheURL,
			"AWS_ACCESS_KEY_ID=" + assumed.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY=" + assumed.SecretAccessKey,
			"AWS_SESSION_TOKEN=" + assumed.SessionToken,
		},
		Cmd:       opts.Args,
		Workdir:   opts.Workdir,
		MemoryGiB: opts.MemoryGiB,
		Stdin:     s.Stdin,
		Stdout:    s.Stdout,
		Stderr:    s.Stderr,
	})
}

// openTunnel allocates a local port, starts the forward through the bastion,
// queues its shutdown and waits for the local end to accept connections.
func (s *Session) openTunnel(ctx context.Context, endpoint discover.Endpoint, bastionIP string) (int, error) {
	port, err := s.FreePort()
	if err != nil {
		return 0, err
	}
	handle, err := s.Tunnels.Open(ctx, tunnel.Spec{
		LocalPort:  port,
		RemoteHost: endpoint.Host,
		RemotePort: endpoint.Port,
		BastionIP:  bastionIP,
		User:       s.Config.SSHUser(),
		KeyPath:    s.Config.Instance.SSHKey,
	})
	if err != nil {
		return 0, err
	}
	s.stack.Push(func(ctx context.Context) error {
		if !handle.Alive() {
			return nil
		}
		return handle.Close()
	})

	probeCtx, cancel := context.WithTimeout(ctx, s.tunnelTimeout())
	defer cancel()
	if err := s.Probe(probeCtx, "127.0.0.1", port); err != nil {
		return 0, fmt.Errorf("tunnel to %s never came up: %w", endpoint.Host, err)
	}
	return port, nil
}

func (s *Session) addressTimeout() time.Duration {
	if s.AddressTimeout > 0 {
		return s.AddressTimeout
	}
	return defaultAddressTimeout
}

func (s *Session) sshTimeout() time.Duration {
	if s.SSHTimeout > 0 {
		return s.SSHTimeout
	}
	return defaultSSHTimeout
}

func (s *Session) tunnelTimeout() time.Duration {
	if s.TunnelTimeout > 0 {
		return s.TunnelTimeout
	}
	return defaultTunnelTimeout
}
