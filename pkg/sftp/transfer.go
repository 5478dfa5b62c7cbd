package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Upload 将单个本地普通文件上传到 remotePath，并同步权限、属主和时间戳
//
// 只有所有数据块都完整写入远程文件时才返回 nil。
// 元数据同步失败只记录警告，不影响结果。
// 子通道在任何返回路径上都只释放一次。
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if len(localPath) > MaxPathLength || len(remotePath) > MaxPathLength {
		return fmt.Errorf("%w: path longer than %d bytes", ErrInputTooLong, MaxPathLength)
	}

	// 1. 本地文件信息只取一次，整个传输以此为准
	info, err := c.statLocal(localPath)
	if err != nil {
		return err
	}
	c.logger.Debug("local file exists", "path", localPath, "size", humanize.IBytes(uint64(info.Size)))

	// 2. 打开 sftp 子通道
	sub, err := c.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannelInit, err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Warn("release sftp subsystem failed", "error", err)
		}
	}()
	c.logger.Debug("sftp subsystem created and initialised")

	progress := c.progress
	if c.progressOut != nil {
		progress = newProgressBar(c.progressOut, info.Size, remotePath)
	}

	// 3. 数据传输
	start := time.Now()
	if err := c.copyData(ctx, sub, localPath, remotePath, info, progress); err != nil {
		return err
	}
	elapsed := time.Since(start)
	c.logger.Debug("file transfer complete",
		"bytes", info.Size,
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", transferRate(info.Size, elapsed))

	// 4. 元数据同步
	c.applyMetadata(sub, remotePath, info)
	return nil
}

func (c *Client) statLocal(localPath string) (localFileInfo, error) {
	fi, err := c.localFs.Stat(localPath)
	if err != nil {
		return localFileInfo{}, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if !fi.Mode().IsRegular() {
		return localFileInfo{}, fmt.Errorf("%w: %s (%s)", ErrInvalidSource, localPath, fi.Mode().Type())
	}

	// 时间戳只保留到秒
	mtime := time.Unix(fi.ModTime().Unix(), 0)
	info := localFileInfo{
		Size:  fi.Size(),
		Mode:  fi.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky),
		UID:   -1,
		GID:   -1,
		Atime: mtime,
		Mtime: mtime,
	}
	if uid, gid, atime, ok := statOwnerTimes(fi); ok {
		info.UID, info.GID, info.Atime = uid, gid, atime
	}
	return info, nil
}

// copyData 打开本地和远程文件并逐块复制
// 本地文件句柄在返回前关闭，远程文件在每条路径上显式关闭
func (c *Client) copyData(ctx context.Context, sub Subsystem, localPath, remotePath string, info localFileInfo, progress ProgressCallback) error {
	src, err := c.localFs.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalOpen, err)
	}
	defer src.Close()

	dst, err := sub.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoteOpen, remotePath, err)
	}
	if err := sub.Chmod(remotePath, placeholderMode); err != nil {
		c.logger.Warn("set placeholder mode failed", "path", remotePath, "error", err)
	}

	c.logger.Debug("starting file transfer", "remote", remotePath, "block_size", c.config.BlockSize)
	if err := c.streamBlocks(ctx, src, dst, info.Size, progress); err != nil {
		if cerr := dst.Close(); cerr != nil {
			c.logger.Warn("close remote file failed", "path", remotePath, "error", cerr)
		}
		c.discardPartial(sub, remotePath)
		return err
	}

	// 数据已经全部写入，关闭失败只告警
	if err := dst.Close(); err != nil {
		c.logger.Warn("close remote file failed", "path", remotePath, "error", err)
	}
	return nil
}

// streamBlocks 按固定块大小复制 size 字节
// 任意一次写入少于读取的字节数都会立即终止，不做重试
func (c *Client) streamBlocks(ctx context.Context, src io.Reader, dst io.Writer, size int64, progress ProgressCallback) error {
	blockSize := c.config.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	buf := make([]byte, blockSize)

	remaining := size
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := blockSize
		if int64(want) > remaining {
			want = int(remaining)
		}
		numRead, err := io.ReadFull(src, buf[:want])
		if err != nil {
			return fmt.Errorf("%w: %d bytes left: %w", ErrLocalRead, remaining, err)
		}

		numWritten, err := dst.Write(buf[:numRead])
		if numWritten < numRead || err != nil {
			if err == nil {
				err = io.ErrShortWrite
			}
			return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrShortWrite, numWritten, numRead, err)
		}

		remaining -= int64(numRead)
		if progress != nil {
			progress(numRead)
		}
	}
	return nil
}

func (c *Client) discardPartial(sub Subsystem, remotePath string) {
	if !c.config.RemoveOnFailure {
		c.logger.Warn("partial remote file left behind", "path", remotePath)
		return
	}
	if err := sub.Remove(remotePath); err != nil {
		c.logger.Warn("remove partial remote file failed", "path", remotePath, "error", err)
		return
	}
	c.logger.Debug("partial remote file removed", "path", remotePath)
}

// applyMetadata 依次同步权限、属主、访问/修改时间
func (c *Client) applyMetadata(sub Subsystem, remotePath string, info localFileInfo) {
	if err := sub.Chmod(remotePath, info.Mode); err != nil {
		c.logger.Warn("set remote file mode failed", "path", remotePath, "mode", info.Mode, "error", err)
	}

	if info.hasOwner() {
		if err := sub.Chown(remotePath, info.UID, info.GID); err != nil {
			c.logger.Warn("set remote file owner failed", "path", remotePath, "uid", info.UID, "gid", info.GID, "error", err)
		}
	} else {
		c.logger.Debug("local owner unknown, skip chown", "path", remotePath)
	}

	if err := sub.Chtimes(remotePath, info.Atime, info.Mtime); err != nil {
		c.logger.Warn("set remote file timestamps failed", "path", remotePath, "error", err)
	}
}

func transferRate(n int64, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(float64(n)/d.Seconds())) + "/s"
}
