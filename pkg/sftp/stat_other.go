//go:build !linux && !darwin

package sftp

import (
	"os"
	"time"
)

// 其他平台拿不到 uid/gid 和访问时间，属主同步会被跳过，访问时间取修改时间
func statOwnerTimes(info os.FileInfo) (uid, gid int, atime time.Time, ok bool) {
	return -1, -1, time.Time{}, false
}
