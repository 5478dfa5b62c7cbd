package global

import (
	"os"

	"golang.org/x/term"
)

var (
	IsTerminal       = term.IsTerminal(int(os.Stdin.Fd())) // 是否是交互式环境,false表示可能是管道或重定向
	StderrIsTerminal = term.IsTerminal(int(os.Stderr.Fd())) // 进度条只在终端上显示
)
