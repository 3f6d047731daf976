/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const localhost = "127.0.0.1"

// GetLocalFreeTCPPort asks the kernel for a TCP port on 127.0.0.1 that nobody listens on.
func GetLocalFreeTCPPort() int {
	listener, err := net.Listen("tcp", net.JoinHostPort(localhost, "0"))
	if err != nil {
		panic(err)
	}
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

// GetLocalAddrWithFreeTCPPort returns 127.0.0.1:<free-tcp-port> address.
func GetLocalAddrWithFreeTCPPort() string {
	return net.JoinHostPort(localhost, fmt.Sprint(GetLocalFreeTCPPort()))
}

// WaitListeningServer dials addr with exponential backoff until a TCP connection succeeds or timeout elapses.
func WaitListeningServer(addr string, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 10
	b.MaxInterval = time.Millisecond * 200
	b.MaxElapsedTime = timeout
	err := backoff.Retry(func() error {
		conn, dialErr := net.DialTimeout("tcp", addr, time.Second)
		if dialErr != nil {
			return dialErr
		}
		return conn.Close()
	}, b)
	if err != nil {
		return fmt.Errorf("wait for server listening on %s: %w", addr, err)
	}
	return nil
}
