package scp

import (
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/require"
)

func TestErrNameAndMessage(t *testing.T) {
	require.Equal(t, "OK", ErrName(nil))
	require.Equal(t, "success", ErrMessage(nil))

	badRC := &Error{Code: CodeBadRC, CmdRC: 7}
	require.Equal(t, "BAD_RC", ErrName(badRC))
	require.Contains(t, ErrMessage(badRC), "7")

	timeout := &Error{Code: CodeTimeout}
	require.Equal(t, "TIMEOUT", ErrName(timeout))

	free := &Error{Code: CodeFree}
	require.Equal(t, "FREE", ErrName(free))

	transport := stderrors.New("connection refused")
	require.Equal(t, "TRANSPORT_ERROR", ErrName(transport))
	require.Equal(t, "connection refused", ErrMessage(transport))
}
