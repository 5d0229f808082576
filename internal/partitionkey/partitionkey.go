// Package partitionkey implements the configurable partition-key
// policy used by the replication reader to assign each event a
// Kinesis partition key.
package partitionkey

import "github.com/giuliano-altobelli/cdc-pipeline/internal/lsn"

// Mode selects the partition-key policy.
type Mode string

const (
	// ModeStatic assigns a single fixed key to every event.
	ModeStatic Mode = "static"
	// ModeFallback attempts a per-payload extraction first, falling
	// back to a named strategy when extraction yields nothing.
	ModeFallback Mode = "fallback"
)

// Fallback names a strategy used when per-payload extraction yields no
// key under ModeFallback.
type Fallback string

const (
	// FallbackLSN uses the formatted event LSN as the partition key.
	FallbackLSN Fallback = "lsn"

	// FallbackRoundRobin cycles over a configured list of shard
	// buckets. This is a named fallback beyond spec.md's single "lsn"
	// fallback, added per spec.md §9's open question that richer
	// fallbacks should be named, not ad hoc; it still never inspects
	// row contents, so it stays within the schema-inference Non-goal.
	FallbackRoundRobin Fallback = "roundrobin"
)

// KeyExtractor is the user-supplied hook: given payload bytes, it may
// return a key, or ok=false if none applies. It never inspects schema;
// it's treated as opaque by the core, per spec.md §4.5.
type KeyExtractor interface {
	ExtractKey(payload []byte) (key string, ok bool)
}

// KeyExtractorFunc adapts a function to KeyExtractor.
type KeyExtractorFunc func(payload []byte) (string, bool)

// ExtractKey implements KeyExtractor.
func (f KeyExtractorFunc) ExtractKey(payload []byte) (string, bool) { return f(payload) }

// Policy assigns partition keys to events.
type Policy struct {
	Mode Mode

	// StaticValue is used verbatim under ModeStatic.
	StaticValue string

	// Fallback selects the strategy used under ModeFallback when
	// Extractor returns ok=false (or Extractor is nil).
	Fallback Fallback

	// RoundRobinBuckets backs FallbackRoundRobin; ignored otherwise.
	RoundRobinBuckets []string

	// Extractor is consulted first under ModeFallback.
	Extractor KeyExtractor

	roundRobinNext int
}

// KeyFor returns the partition key for an event carrying the given
// payload and LSN.
func (p *Policy) KeyFor(payload []byte, l lsn.LSN) string {
	switch p.Mode {
	case ModeStatic:
		return p.StaticValue

	case ModeFallback:
		if p.Extractor != nil {
			if key, ok := p.Extractor.ExtractKey(payload); ok {
				return key
			}
		}
		switch p.Fallback {
		case FallbackRoundRobin:
			return p.nextRoundRobin()
		default: // FallbackLSN, and the default for an unset/unknown value
			return l.String()
		}

	default:
		return l.String()
	}
}

func (p *Policy) nextRoundRobin() string {
	if len(p.RoundRobinBuckets) == 0 {
		return ""
	}
	bucket := p.RoundRobinBuckets[p.roundRobinNext%len(p.RoundRobinBuckets)]
	p.roundRobinNext++
	return bucket
}
