package sftp

import (
	"errors"
	"io"
	"os"
	"time"
)

const (
	DefaultBlockSize = 10 * 1024 // 单次读写的块大小
	MaxPathLength    = 4096
	// 远程文件打开后、元数据同步前使用的临时权限 (仅属主可读写执行)
	placeholderMode os.FileMode = 0o700
)

// 传输错误类型，调用方通过 errors.Is 判断
var (
	ErrInvalidSource = errors.New("local source is not a regular file")
	ErrChannelInit   = errors.New("sftp subsystem init failed")
	ErrLocalOpen     = errors.New("open local file failed")
	ErrLocalRead     = errors.New("read local file failed")
	ErrRemoteOpen    = errors.New("open remote file failed")
	ErrShortWrite    = errors.New("short write to remote file")
	ErrInputTooLong  = errors.New("input too long")
)

// TransferConfig 定义传输配置
type TransferConfig struct {
	BlockSize       int  // 块大小，整个传输过程中不变
	RemoveOnFailure bool // 数据写入失败时删除残留的远程文件
}

func DefaultConfig() TransferConfig {
	return TransferConfig{
		BlockSize:       DefaultBlockSize,
		RemoveOnFailure: true,
	}
}

// ProgressCallback 进度回调，n 为本次增量传输的字节数
type ProgressCallback func(n int)

// RemoteFile 远程文件写句柄
type RemoteFile interface {
	io.Writer
	Close() error
}

// Subsystem 是建立在 SSH 连接上的文件传输子通道
// Close 释放子通道本身，不影响底层 SSH 连接
type Subsystem interface {
	OpenFile(path string, flags int) (RemoteFile, error)
	Chmod(path string, mode os.FileMode) error
	Chown(path string, uid, gid int) error
	Chtimes(path string, atime, mtime time.Time) error
	Remove(path string) error
	Close() error
}

// Opener 打开并初始化一个新的文件传输子通道
type Opener func() (Subsystem, error)

// localFileInfo 是传输开始时对本地文件的一次性快照
type localFileInfo struct {
	Size  int64
	Mode  os.FileMode
	UID   int // -1 表示无法获取
	GID   int
	Atime time.Time
	Mtime time.Time
}

func (i localFileInfo) hasOwner() bool {
	return i.UID >= 0 && i.GID >= 0
}
