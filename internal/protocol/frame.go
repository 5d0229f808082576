// Package protocol packs and unpacks the streaming replication message
// framing used over a PostgreSQL-style logical replication connection:
// XLogData and PrimaryKeepalive inbound, StandbyStatusUpdate outbound.
// All integers are big-endian, matching the upstream wire format.
package protocol

import (
	"encoding/binary"
	"time"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
	"github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"
)

const (
	tagXLogData             = 'w'
	tagPrimaryKeepalive      = 'k'
	tagStandbyStatusUpdate   = 'r'
	xLogDataHeaderLen        = 1 + 8 + 8 + 8
	primaryKeepaliveFrameLen = 1 + 8 + 8 + 1
	standbyStatusUpdateLen   = 1 + 8 + 8 + 8 + 8 + 1
)

type (
	// ServerMessage is implemented by the two inbound frame kinds.
	ServerMessage interface {
		isServerMessage()
	}

	// XLogData carries a chunk of decoded WAL output from the
	// configured logical decoding plugin.
	XLogData struct {
		WALStart    lsn.LSN
		WALEnd      lsn.LSN
		ServerClock time.Time
		Payload     []byte
	}

	// PrimaryKeepalive is sent periodically by the server, optionally
	// requesting an immediate StandbyStatusUpdate reply.
	PrimaryKeepalive struct {
		WALEnd         lsn.LSN
		ServerClock    time.Time
		ReplyRequested bool
	}

	// StandbyStatusUpdate is the sole outbound frame kind: feedback
	// reporting how far the client has written/flushed/applied WAL.
	StandbyStatusUpdate struct {
		WrittenLSN     lsn.LSN
		FlushedLSN     lsn.LSN
		AppliedLSN     lsn.LSN
		ClientClock    time.Time
		ReplyRequested bool
	}
)

func (*XLogData) isServerMessage()         {}
func (*PrimaryKeepalive) isServerMessage() {}

// pgEpoch is the origin used for the 8-byte "clock" fields, which count
// microseconds since 2000-01-01, not the Unix epoch.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func encodeClock(t time.Time) uint64 {
	return uint64(t.Sub(pgEpoch).Microseconds())
}

func decodeClock(micros uint64) time.Time {
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond)
}

// DecodeServerMessage discriminates on the leading tag byte and decodes
// one of the two inbound frame kinds. Short frames (shorter than the
// fixed header for their kind) fail with *cdcerr.MalformedFrameError.
// An unrecognized tag also fails with that error; callers are expected
// to log and skip per spec.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	if len(data) < 1 {
		return nil, &cdcerr.MalformedFrameError{Reason: "empty frame"}
	}

	switch data[0] {
	case tagXLogData:
		if len(data) < xLogDataHeaderLen {
			return nil, &cdcerr.MalformedFrameError{Reason: "short XLogData frame"}
		}
		return &XLogData{
			WALStart:    lsn.LSN(binary.BigEndian.Uint64(data[1:9])),
			WALEnd:      lsn.LSN(binary.BigEndian.Uint64(data[9:17])),
			ServerClock: decodeClock(binary.BigEndian.Uint64(data[17:25])),
			Payload:     append([]byte(nil), data[xLogDataHeaderLen:]...),
		}, nil

	case tagPrimaryKeepalive:
		if len(data) < primaryKeepaliveFrameLen {
			return nil, &cdcerr.MalformedFrameError{Reason: "short PrimaryKeepalive frame"}
		}
		return &PrimaryKeepalive{
			WALEnd:         lsn.LSN(binary.BigEndian.Uint64(data[1:9])),
			ServerClock:    decodeClock(binary.BigEndian.Uint64(data[9:17])),
			ReplyRequested: data[17] != 0,
		}, nil

	default:
		return nil, &cdcerr.MalformedFrameError{Reason: "unknown tag " + string(data[0])}
	}
}

// Encode packs a StandbyStatusUpdate into its wire form.
func (s *StandbyStatusUpdate) Encode() []byte {
	buf := make([]byte, standbyStatusUpdateLen)
	buf[0] = tagStandbyStatusUpdate
	binary.BigEndian.PutUint64(buf[1:9], uint64(s.WrittenLSN))
	binary.BigEndian.PutUint64(buf[9:17], uint64(s.FlushedLSN))
	binary.BigEndian.PutUint64(buf[17:25], uint64(s.AppliedLSN))
	binary.BigEndian.PutUint64(buf[25:33], encodeClock(s.ClientClock))
	if s.ReplyRequested {
		buf[33] = 1
	}
	return buf
}

// DecodeStandbyStatusUpdate unpacks a StandbyStatusUpdate frame. It is
// primarily used by tests exercising the pack/unpack law, since the
// core only ever sends this frame kind rather than receiving it.
func DecodeStandbyStatusUpdate(data []byte) (*StandbyStatusUpdate, error) {
	if len(data) < standbyStatusUpdateLen {
		return nil, &cdcerr.MalformedFrameError{Reason: "short StandbyStatusUpdate frame"}
	}
	if data[0] != tagStandbyStatusUpdate {
		return nil, &cdcerr.MalformedFrameError{Reason: "wrong tag for StandbyStatusUpdate"}
	}
	return &StandbyStatusUpdate{
		WrittenLSN:     lsn.LSN(binary.BigEndian.Uint64(data[1:9])),
		FlushedLSN:     lsn.LSN(binary.BigEndian.Uint64(data[9:17])),
		AppliedLSN:     lsn.LSN(binary.BigEndian.Uint64(data[17:25])),
		ClientClock:    decodeClock(binary.BigEndian.Uint64(data[25:33])),
		ReplyRequested: data[33] != 0,
	}, nil
}
