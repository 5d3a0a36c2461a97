package scp

import "testing"

import "github.com/stretchr/testify/require"

func TestPackUnpackRoundTrip(t *testing.T) {
	buf := make([]byte, packetCapacity(256))
	payload := []byte("Hello, world!")
	n := pack(buf, 256, 0x0102, 7, cmdWrite, 42, 3, 0x1000, uint32(len(payload)), uint32(rwUnitByte), payload)

	cmdRC, seq, nArgs, arg1, arg2, arg3, got := unpack(buf[:n], 3)
	require.Equal(t, uint16(cmdWrite), cmdRC)
	require.Equal(t, uint16(42), seq)
	require.Equal(t, 3, nArgs)
	require.EqualValues(t, 0x1000, arg1)
	require.EqualValues(t, len(payload), arg2)
	require.EqualValues(t, rwUnitByte, arg3)
	require.Equal(t, payload, got)
}

func TestPackTruncatesPayloadToDataLength(t *testing.T) {
	buf := make([]byte, packetCapacity(4))
	n := pack(buf, 4, 0, 0, 0, 0, 0, 0, 0, 0, []byte("too long"))
	require.Equal(t, padSize+headerSize+4, n)
}

func TestUnpackClampsArgsToPacketLength(t *testing.T) {
	// A packet with room for only one argument.
	buf := make([]byte, padSize+headerSize+argSize)
	n := pack(buf, 0, 0, 0, 0, 0, 1, 99, 0, 0, nil)
	require.Equal(t, padSize+headerSize+argSize, n)

	_, _, nArgs, arg1, _, _, payload := unpack(buf[:n], 3)
	require.Equal(t, 1, nArgs)
	require.EqualValues(t, 99, arg1)
	require.Empty(t, payload)
}

func TestSelectRWUnit(t *testing.T) {
	require.Equal(t, rwUnitWord, selectRWUnit(4, 8))
	require.Equal(t, rwUnitShort, selectRWUnit(2, 6))
	require.Equal(t, rwUnitByte, selectRWUnit(1, 5))
	require.Equal(t, rwUnitByte, selectRWUnit(4, 3))
}

func TestUnpackSeq(t *testing.T) {
	buf := make([]byte, packetCapacity(0))
	pack(buf, 0, 0, 0, 0, 0x1234, 0, 0, 0, 0, nil)
	require.Equal(t, uint16(0x1234), unpackSeq(buf))
}
