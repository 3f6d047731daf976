/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil contains assertion helpers shared by the reqguard packages tests.
package testutil

import (
	"time"

	"github.com/stretchr/testify/require"
)

type tHelper interface {
	Helper()
}

// RequireNoErrorInChannel asserts that there is no error in buffered channel.
func RequireNoErrorInChannel(t require.TestingT, c <-chan error, msgAndArgs ...interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	var err error
	select {
	case err = <-c:
	default:
	}
	require.NoError(t, err, msgAndArgs...)
}

// RequireErrorInChannelWithin waits for an error in the channel and returns it.
// The test fails if nothing arrives within the timeout.
func RequireErrorInChannelWithin(t require.TestingT, c <-chan error, timeout time.Duration) error {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	select {
	case err := <-c:
		return err
	case <-time.After(timeout):
		require.FailNow(t, "no value received from the error channel", "timeout: %s", timeout)
		return nil
	}
}
