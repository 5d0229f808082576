package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/protocol"
)

func TestStandbyStatusUpdateRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Microsecond)
	original := &protocol.StandbyStatusUpdate{
		WrittenLSN:  lsn.LSN(300) + 1,
		FlushedLSN:  lsn.LSN(300) + 1,
		AppliedLSN:  lsn.LSN(300) + 1,
		ClientClock: now,
	}

	decoded, err := protocol.DecodeStandbyStatusUpdate(original.Encode())
	require.NoError(t, err)
	assert.Equal(t, original.WrittenLSN, decoded.WrittenLSN)
	assert.Equal(t, original.FlushedLSN, decoded.FlushedLSN)
	assert.Equal(t, original.AppliedLSN, decoded.AppliedLSN)
	assert.Equal(t, original.ClientClock.UnixMicro(), decoded.ClientClock.UnixMicro())
	assert.False(t, decoded.ReplyRequested)
}

func TestDecodeXLogData(t *testing.T) {
	payload := []byte(`{"change":[]}`)
	frame := buildXLogDataFrame(t, 402_348_736, 402_348_800, payload)

	decoded, err := protocol.DecodeServerMessage(frame)
	require.NoError(t, err)

	xld, ok := decoded.(*protocol.XLogData)
	require.True(t, ok)
	assert.Equal(t, lsn.LSN(402_348_736), xld.WALStart)
	assert.Equal(t, lsn.LSN(402_348_800), xld.WALEnd)
	assert.Equal(t, payload, xld.Payload)
}

func TestDecodePrimaryKeepalive(t *testing.T) {
	frame := buildKeepaliveFrame(t, 100, true)
	decoded, err := protocol.DecodeServerMessage(frame)
	require.NoError(t, err)

	ka, ok := decoded.(*protocol.PrimaryKeepalive)
	require.True(t, ok)
	assert.Equal(t, lsn.LSN(100), ka.WALEnd)
	assert.True(t, ka.ReplyRequested)
}

func TestDecodeRejectsShortFrames(t *testing.T) {
	for _, frame := range [][]byte{
		{},
		{'w', 1, 2, 3},
		{'k', 1, 2, 3},
	} {
		_, err := protocol.DecodeServerMessage(frame)
		require.Error(t, err)
		var malformed *cdcerr.MalformedFrameError
		assert.ErrorAs(t, err, &malformed)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := protocol.DecodeServerMessage([]byte{'x', 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}

func buildXLogDataFrame(t *testing.T, walStart, walEnd uint64, payload []byte) []byte {
	t.Helper()
	frame := make([]byte, 0, 25+len(payload))
	frame = append(frame, 'w')
	frame = appendUint64(frame, walStart)
	frame = appendUint64(frame, walEnd)
	frame = appendUint64(frame, 0) // server clock
	frame = append(frame, payload...)
	return frame
}

func buildKeepaliveFrame(t *testing.T, walEnd uint64, replyRequested bool) []byte {
	t.Helper()
	frame := make([]byte, 0, 18)
	frame = append(frame, 'k')
	frame = appendUint64(frame, walEnd)
	frame = appendUint64(frame, 0)
	if replyRequested {
		frame = append(frame, 1)
	} else {
		frame = append(frame, 0)
	}
	return frame
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
