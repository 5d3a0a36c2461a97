package scp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scp "github.com/project-rig/go-scp"
	"github.com/project-rig/go-scp/scptest"
)

// Freeing a connection cancels an in-flight request with CodeFree and still
// calls the free callback.
func TestFreeCancelsOutstandingRequests(t *testing.T) {
	conn, peer := newTestConnection(t, scptest.SilentHandler, scp.Config{Attempts: 100, Timeout: time.Second})

	reqDone := make(chan struct{})
	conn.SubmitSCP(0, 0, 0, 0, 0, 0, 0, 0, nil, 0, 0,
		func(c *scp.Connection, err error, cmdRC uint16, nArgs int, arg1, arg2, arg3 uint32, got []byte, ud interface{}) {
			require.Equal(t, "FREE", scp.ErrName(err))
			close(reqDone)
		}, nil)

	freeDone := make(chan struct{})
	conn.Free(func(ud interface{}) { close(freeDone) }, nil)

	select {
	case <-reqDone:
	case <-time.After(2 * time.Second):
		t.Fatal("request callback never fired on free")
	}
	select {
	case <-freeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("free callback never fired")
	}

	peer.Close()
}

// Submissions after Free fail immediately with CodeFree rather than being
// silently dropped or left pending.
func TestSubmitAfterFreeFailsImmediately(t *testing.T) {
	conn, peer := newTestConnection(t, scptest.EchoHandler, scp.Config{})
	defer peer.Close()

	conn.Free(func(ud interface{}) {}, nil)

	done := make(chan struct{})
	conn.SubmitSCP(0, 0, 0, 0, 0, 0, 0, 0, nil, 0, 0,
		func(c *scp.Connection, err error, cmdRC uint16, nArgs int, arg1, arg2, arg3 uint32, got []byte, ud interface{}) {
			require.Equal(t, "FREE", scp.ErrName(err))
			close(done)
		}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("post-free submission never got its callback")
	}
}
