//go:build linux

package sftp

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wentf9/raft/internal/sshtest"
	"github.com/wentf9/raft/pkg/ssh"
)

var (
	srcAtime = time.Date(2020, 1, 2, 3, 4, 5, 900, time.UTC)
	srcMtime = time.Date(2021, 6, 1, 12, 30, 45, 700, time.UTC)
)

func writeTimedFile(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("owned\n"), 0o600))
	require.NoError(t, os.Chmod(src, 0o604))
	require.NoError(t, os.Chtimes(src, srcAtime, srcMtime))
	return src
}

func TestUploadPassesOwnerAndTimes(t *testing.T) {
	src := writeTimedFile(t, t.TempDir())
	remote := &fakeRemote{}

	c := newTestClient(t, remote, afero.NewOsFs())
	require.NoError(t, c.Upload(context.Background(), src, "/dst/source.txt"))

	assert.Equal(t, []string{"open", "chmod", "close-file", "chmod", "chown", "chtimes"}, remote.events)
	assert.Equal(t, os.FileMode(0o604), remote.mode)
	assert.Equal(t, os.Getuid(), remote.uid)
	assert.Equal(t, os.Getgid(), remote.gid)
	assert.Equal(t, srcAtime.Unix(), remote.atime.Unix())
	assert.Zero(t, remote.atime.Nanosecond())
	assert.Equal(t, srcMtime.Unix(), remote.mtime.Unix())
	assert.Zero(t, remote.mtime.Nanosecond())
}

func TestUploadOverSSHPreservesOwnerAndTimes(t *testing.T) {
	srv := sshtest.Start(t, sshtest.WithPassword("tester", "secret"))
	conn, err := ssh.NewConnector(nil).Connect(context.Background(), ssh.Target{
		Host: srv.Host(), Port: srv.Port(), User: "tester", Password: "secret",
	})
	require.NoError(t, err)
	defer conn.Close()

	dir := t.TempDir()
	src := writeTimedFile(t, dir)
	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	srcStat := srcInfo.Sys().(*syscall.Stat_t)

	dst := filepath.Join(dir, "copy.txt")
	require.NoError(t, NewClient(conn).Upload(context.Background(), src, dst))

	fi, err := os.Stat(dst)
	require.NoError(t, err)
	st := fi.Sys().(*syscall.Stat_t)

	assert.Equal(t, os.FileMode(0o604), fi.Mode().Perm())
	assert.Equal(t, srcStat.Uid, st.Uid)
	assert.Equal(t, srcStat.Gid, st.Gid)
	assert.Equal(t, srcAtime.Unix(), int64(st.Atim.Sec))
	assert.Zero(t, st.Atim.Nsec)
	assert.Equal(t, srcMtime.Unix(), int64(st.Mtim.Sec))
	assert.Zero(t, st.Mtim.Nsec)
}
