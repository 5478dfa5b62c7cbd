//go:build darwin

package sftp

import (
	"os"
	"syscall"
	"time"
)

func statOwnerTimes(info os.FileInfo) (uid, gid int, atime time.Time, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return -1, -1, time.Time{}, false
	}
	return int(st.Uid), int(st.Gid), time.Unix(st.Atimespec.Sec, 0), true
}
