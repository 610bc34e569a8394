package tunnel

import (
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	require.Greater(t, port, 0)

	// The port must be bindable right after FreePort returns.
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestFreePortDistinct(t *testing.T) {
	// Two allocations in a row should not collide while nothing rebinds the
	// first port.
	a, err := FreePort()
	require.NoError(t, err)
	b, err := FreePort()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestSSHArgs(t *testing.T) {
	args := sshArgs(Spec{
		LocalPort:  15432,
		RemoteHost: "db.internal",
		RemotePort: "5432",
		BastionIP:  "198.51.100.7",
		User:       "ec2-user",
		KeyPath:    "/home/dev/.ssh/prodbox.pem",
	})
	require.Equal(t, []string{
		"-i", "/home/dev/.ssh/prodbox.pem",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-N",
		"-L", "127.0.0.1:15432:db.internal:5432",
		"ec2-user@198.51.100.7",
	}, args)
}

func TestProcessLifecycle(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	p := &process{cmd: cmd}
	go func() { _ = cmd.Wait() }()

	require.True(t, p.Alive())
	require.NoError(t, p.Close())
	// Close is idempotent.
	require.NoError(t, p.Close())

	require.Eventually(t, func() bool { return !p.Alive() }, 5*time.Second, 10*time.Millisecond)
}

func TestProcessCloseAfterExit(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())
	p := &process{cmd: cmd}

	require.False(t, p.Alive())
	require.NoError(t, p.Close())
}
