//go:build !linux

package connector

import (
	"context"
	"net"
)

// listen は OS 既定の backlog でリッスンする
func listen(addr string, _ int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), "tcp", addr)
}
