package ssh

import (
	"context"
	"time"
)

// StartKeepAlive 开启一个协程，定期向服务器发送心跳，ctx 结束时退出
// 心跳失败时关闭连接，正在进行的传输会随之返回错误
func (c *Client) StartKeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			// "keepalive@openssh.com" 是 OpenSSH 标准的心跳请求类型
			if _, _, err := c.sshClient.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn("keepalive failed, closing connection", "error", err)
				c.sshClient.Close()
				return
			}
			c.logger.Debug("keepalive sent")
		}
	}()
}
