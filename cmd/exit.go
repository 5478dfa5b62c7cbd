package cmd

import (
	"errors"
	"os"

	"github.com/wentf9/raft/pkg/sftp"
	"github.com/wentf9/raft/pkg/ssh"
)

// 进程退出码
const (
	ExitOK           = 0
	ExitUsage        = 1 // 参数错误或未提供参数
	ExitConnect      = 2
	ExitKeyAuth      = 3
	ExitPasswordAuth = 4
	ExitTransfer     = 5
)

// exitFunc 测试中替换以捕获退出码
var exitFunc = os.Exit

// errUsage 表示已经打印了用法说明，不再重复输出错误
var errUsage = errors.New("usage")

// ExitError 携带退出码的错误
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// exitCode 将错误映射为进程退出码
func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, ssh.ErrKeyAuth):
		return ExitKeyAuth
	case errors.Is(err, ssh.ErrPasswordAuth):
		return ExitPasswordAuth
	case errors.Is(err, ssh.ErrConnect):
		return ExitConnect
	case isTransferError(err):
		return ExitTransfer
	default:
		return ExitUsage
	}
}

func isTransferError(err error) bool {
	for _, kind := range []error{
		sftp.ErrInvalidSource,
		sftp.ErrChannelInit,
		sftp.ErrLocalOpen,
		sftp.ErrLocalRead,
		sftp.ErrRemoteOpen,
		sftp.ErrShortWrite,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
