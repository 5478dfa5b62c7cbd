package utils

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const (
	ConfigDirName  = ".raft"
	ConfigFileName = "config.yaml"
	ConfigKeyName  = "key"
)

// ParseAddr 解析 [user@]host[:port] 格式的字符串，未提供的部分返回零值
// IPv6 地址带端口时需要写成 [addr]:port
func ParseAddr(input string) (user, host string, port int, err error) {
	input = strings.TrimSpace(input)
	if at := strings.LastIndex(input, "@"); at != -1 {
		user = strings.TrimSpace(input[:at])
		input = input[at+1:]
	}

	switch {
	case strings.HasPrefix(input, "["):
		h, p, splitErr := net.SplitHostPort(input)
		if splitErr != nil {
			// 只有 [addr] 没有端口
			h = strings.TrimSuffix(strings.TrimPrefix(input, "["), "]")
			p = ""
		}
		host = h
		if port, err = ParsePort(p); err != nil {
			return "", "", 0, err
		}
	case strings.Count(input, ":") == 1:
		i := strings.Index(input, ":")
		host = input[:i]
		if port, err = ParsePort(input[i+1:]); err != nil {
			return "", "", 0, err
		}
	default:
		// 不含端口，或不带方括号的 IPv6 地址
		host = input
	}
	return user, host, port, nil
}

// ParsePort 解析端口字符串，空字符串返回 0
func ParsePort(input string) (int, error) {
	if input == "" {
		return 0, nil
	}
	port, err := strconv.ParseUint(input, 10, 16)
	if err != nil || port == 0 {
		return 0, fmt.Errorf("invalid port %q", input)
	}
	return int(port), nil
}

func GetCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		return os.Getenv("USER")
	}
	return currentUser.Username
}

// GetConfigFilePath 返回默认的配置文件和密钥文件路径
func GetConfigFilePath() (configPath, keyPath string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	dir := filepath.Join(home, ConfigDirName)
	return filepath.Join(dir, ConfigFileName), filepath.Join(dir, ConfigKeyName)
}

// ReadPasswordFromTerminal 从终端安全地读取密码，提示信息写入 w
func ReadPasswordFromTerminal(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w) // ReadPassword 不会打印换行符
	if err != nil {
		return "", err
	}
	return string(password), nil
}
