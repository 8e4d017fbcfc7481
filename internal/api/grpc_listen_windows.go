//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// defaultGRPCAddr канал по умолчанию
func defaultGRPCAddr() string {
	return `npipe:\\.\pipe\livetranscriber-grpc`
}

// listenPipe доступ к каналу только у текущего пользователя
func listenPipe(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		InputBufferSize:    64 * 1024,
		OutputBufferSize:   64 * 1024,
	})
}
