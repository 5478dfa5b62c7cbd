//go:build integration

package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	sshImage    = "linuxserver/openssh-server:latest"
	sshUser     = "tester"
	sshPassword = "raft-integration"
)

// startOpenSSH 启动一个真实的 OpenSSH 容器，返回容器和映射后的 host/port
func startOpenSSH(t *testing.T, ctx context.Context) (testcontainers.Container, string, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        sshImage,
		ExposedPorts: []string{"2222/tcp"},
		Env: map[string]string{
			"USER_NAME":       sshUser,
			"USER_PASSWORD":   sshPassword,
			"PASSWORD_ACCESS": "true",
			"PUID":            "1000",
			"PGID":            "1000",
		},
		WaitingFor: wait.ForListeningPort("2222/tcp").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start openssh container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2222/tcp")
	require.NoError(t, err)
	return container, host, port.Port()
}

func execInContainer(t *testing.T, ctx context.Context, c testcontainers.Container, cmd ...string) (int, string) {
	t.Helper()
	code, reader, err := c.Exec(ctx, cmd, tcexec.Multiplexed())
	require.NoError(t, err)
	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	return code, string(out)
}

func TestIntegrationOpenSSH(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	container, host, port := startOpenSSH(t, ctx)

	src := filepath.Join(t.TempDir(), "payload.txt")
	require.NoError(t, os.WriteFile(src, []byte("shipped by raft\n"), 0o640))
	const dst = "/tmp/payload.txt"

	// sshd 在端口监听后仍可能短暂拒绝连接
	var r result
	for range 10 {
		r = runRaft(t, "",
			"-h", sshUser+"@"+host, "-P", port, "-p", sshPassword,
			"-l", src, "-r", dst,
			"-c", "stat -c %a "+dst,
			configFlag(t),
		)
		if r.code != ExitConnect {
			break
		}
		time.Sleep(time.Second)
	}
	require.Equal(t, ExitOK, r.code, r.stderr)
	assert.Equal(t, "640", strings.TrimSpace(r.stdout))

	code, content := execInContainer(t, ctx, container, "cat", dst)
	require.Equal(t, 0, code)
	assert.Equal(t, "shipped by raft\n", content)

	t.Run("wrong password", func(t *testing.T) {
		r := runRaft(t, "", "-h", sshUser+"@"+host, "-P", port, "-p", "wrong", "-c", "true", configFlag(t))
		assert.Equal(t, ExitPasswordAuth, r.code, r.stderr)
	})

	t.Run("remote failure keeps exit code", func(t *testing.T) {
		r := runRaft(t, "", "-h", sshUser+"@"+host, "-P", port, "-p", sshPassword, "-c", "exit 3", configFlag(t))
		assert.Equal(t, ExitOK, r.code, r.stderr)
	})
}
