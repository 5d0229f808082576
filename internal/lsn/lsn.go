// Package lsn parses and formats PostgreSQL-style log sequence numbers:
// an unsigned 64-bit write-ahead-log position, written as two uppercase
// hex groups separated by a slash ("H/L"), where the integer value is
// (H << 32) | L.
package lsn

import (
	"strconv"
	"strings"

	"github.com/giuliano-altobelli/cdc-pipeline/internal/cdcerr"
)

// LSN is a monotonic position in the upstream write-ahead log.
type LSN uint64

// Parse splits text on '/', parsing each side as base-16. It fails with
// a *cdcerr.MalformedLSNError when the separator is absent, either side
// is empty, or non-hex characters appear.
func Parse(text string) (LSN, error) {
	hi, lo, ok := strings.Cut(text, "/")
	if !ok || hi == "" || lo == "" {
		return 0, &cdcerr.MalformedLSNError{Text: text}
	}

	h, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return 0, &cdcerr.MalformedLSNError{Text: text, Cause: err}
	}
	l, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return 0, &cdcerr.MalformedLSNError{Text: text, Cause: err}
	}

	return LSN(h<<32 | l), nil
}

// String formats n as "%X/%X", unpadded uppercase hex, matching the
// upstream server's own rendering. Parse(n.String()) == n for all n.
func (n LSN) String() string {
	hi := uint32(n >> 32)
	lo := uint32(n)
	return strings.ToUpper(strconv.FormatUint(uint64(hi), 16)) + "/" + strings.ToUpper(strconv.FormatUint(uint64(lo), 16))
}
