package sftp

import (
	"io"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
)

// newProgressBar 创建按字节计量的进度条
func newProgressBar(w io.Writer, total int64, remotePath string) ProgressCallback {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Uploading "+path.Base(remotePath)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			io.WriteString(w, "\n")
		}),
	)
	return func(n int) { bar.Add(n) }
}
