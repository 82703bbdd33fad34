// Package net has small networking helpers used by tests and examples.
package net

import (
	"fmt"
	"net"
)

// EphemeralListenAddr reserves an ephemeral TCP port on the loopback
// interface and returns it as a host:port listen address. The port is
// released before returning, so it is only race-free enough for tests.
func EphemeralListenAddr() (string, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
