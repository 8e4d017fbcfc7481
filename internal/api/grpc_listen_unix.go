//go:build !windows

package api

import (
	"fmt"
	"net"
	"os"
)

// defaultGRPCAddr сокет по умолчанию
func defaultGRPCAddr() string {
	return "unix://" + os.TempDir() + "/livetranscriber-grpc.sock"
}

func listenPipe(addr string) (net.Listener, error) {
	return nil, fmt.Errorf("named pipes are supported only on Windows (requested %s)", addr)
}
