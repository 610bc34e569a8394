// container launches the pulled service image interactively, wired to the
// tunnels and carrying the assumed credentials.
package container

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/term"
)

// WorkdirTarget is where the developer's working directory appears inside
// the container.
const WorkdirTarget = "/app"

// API is the slice of the Docker client the launcher uses.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, container string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var (
	ErrCreate = fmt.Errorf("failed to create container")
	ErrAttach = fmt.Errorf("failed to attach to container")
	ErrStart  = fmt.Errorf("failed to start container")
	ErrWait   = fmt.Errorf("failed waiting for container")
)

// Options describe one interactive run.
type Options struct {
	Image string
	Name  string

	// Env is passed through verbatim as KEY=value pairs.
	Env []string

	// Cmd is appended to the image's default entrypoint.
	Cmd []string

	// Workdir is bind-mounted at WorkdirTarget.
	Workdir string

	// MemoryGiB caps container memory; 0 means unlimited.
	MemoryGiB int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Run creates, attaches to, starts and waits on the container, returning
// its exit code. The container is force-removed on the way out regardless
// of how the run ended.
func Run(ctx context.Context, client API, opts Options) (int64, error) {
	log := clog.FromContext(ctx)
	tty := isTerminal(opts.Stdin)

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: opts.Workdir,
			Target: WorkdirTarget,
		}},
		// The tunnels listen on the host's loopback; host-gateway makes the
		// alias resolve there from inside the container.
		ExtraHosts: []string{LocalHostAlias + ":host-gateway"},
	}
	if opts.MemoryGiB > 0 {
		hostConfig.Resources.Memory = int64(opts.MemoryGiB) << 30
	}

	resp, err := client.ContainerCreate(ctx, &container.Config{
		Image:        opts.Image,
		Env:          opts.Env,
		Cmd:          opts.Cmd,
		Tty:          tty,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreate, err)
	}
	log.Info("created container", "id", resp.ID, "image", opts.Image)
	defer func() {
		removeCtx := context.WithoutCancel(ctx)
		if err := client.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Warn("failed to remove container", "id", resp.ID, "error", err)
		}
	}()

	attach, err := client.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAttach, err)
	}
	defer attach.Close()

	if tty {
		restore, err := makeRaw(opts.Stdin)
		if err != nil {
			return 0, err
		}
		defer restore()
	}

	go func() {
		_, _ = io.Copy(attach.Conn, opts.Stdin)
		_ = attach.CloseWrite()
	}()
	outDone := make(chan error, 1)
	go func() {
		var err error
		if tty {
			_, err = io.Copy(opts.Stdout, attach.Reader)
		} else {
			_, err = stdcopy.StdCopy(opts.Stdout, opts.Stderr, attach.Reader)
		}
		outDone <- err
	}()

	statusCh, errCh := client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	if err := client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStart, err)
	}
	log.Info("container started", "id", resp.ID)

	select {
	case err := <-errCh:
		return 0, fmt.Errorf("%w: %w", ErrWait, err)
	case status := <-statusCh:
		<-outDone
		log.Info("container exited", "id", resp.ID, "code", status.StatusCode)
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func isTerminal(stdin io.Reader) bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func makeRaw(stdin io.Reader) (func(), error) {
	f := stdin.(*os.File)
	state, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("entering raw terminal mode: %w", err)
	}
	return func() { _ = term.Restore(int(f.Fd()), state) }, nil
}
