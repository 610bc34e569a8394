// tunnel launches and tracks the background ssh port-forward processes that
// carry database and cache traffic through the bastion.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/chainguard-dev/clog"
)

// Spec describes one local-to-remote forward through the bastion.
type Spec struct {
	LocalPort  int
	RemoteHost string
	RemotePort string
	BastionIP  string
	User       string
	KeyPath    string
}

// Handle is a running tunnel process as seen by the session and its
// teardown stack.
type Handle interface {
	Alive() bool
	Close() error
}

// Opener starts tunnels. The real implementation execs ssh; tests
// substitute fakes.
type Opener interface {
	Open(ctx context.Context, spec Spec) (Handle, error)
}

// FreePort binds an ephemeral loopback port, reads the assigned number and
// releases it. There is a window between release and the tunnel process
// binding it in which another process could grab the port; that race is
// accepted.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocating local port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("releasing local port %d: %w", port, err)
	}
	return port, nil
}

// SSH opens tunnels by exec'ing the local ssh client.
type SSH struct{}

var _ Opener = SSH{}

var ErrTunnelStart = fmt.Errorf("failed to start ssh tunnel process")

// Open launches `ssh -N -L` in the background. The bastion is disposable,
// so host key verification is disabled; its key will never be seen again.
func (SSH) Open(ctx context.Context, spec Spec) (Handle, error) {
	log := clog.FromContext(ctx)

	cmd := exec.Command("ssh", sshArgs(spec)...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTunnelStart, err)
	}
	log.Info(
		"started tunnel",
		"pid", cmd.Process.Pid,
		"local_port", spec.LocalPort,
		"remote", net.JoinHostPort(spec.RemoteHost, spec.RemotePort),
	)

	t := &process{cmd: cmd}
	// Reap the process as soon as it exits so Alive stays accurate.
	go func() { _ = cmd.Wait() }()
	return t, nil
}

func sshArgs(spec Spec) []string {
	forward := net.JoinHostPort("127.0.0.1", strconv.Itoa(spec.LocalPort)) +
		":" + net.JoinHostPort(spec.RemoteHost, spec.RemotePort)
	return []string{
		"-i", spec.KeyPath,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-N",
		"-L", forward,
		spec.User + "@" + spec.BastionIP,
	}
}

type process struct {
	cmd  *exec.Cmd
	mu   sync.Mutex
	done bool
}

// Alive reports whether the tunnel process is still running.
func (p *process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done || p.cmd.Process == nil {
		return false
	}
	if p.cmd.ProcessState != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Close terminates the tunnel process if it is still alive. It is
// idempotent; the teardown stack may call it after the process has already
// exited on its own.
func (p *process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true
	if p.cmd.ProcessState != nil || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signaling tunnel process %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
