// Package bruteforce finds the single flipped bit that explains a digest mismatch.
package bruteforce

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/konard/BitrotBruteforce/internal/digest"
	"github.com/konard/BitrotBruteforce/internal/gpu"
	"github.com/konard/BitrotBruteforce/internal/metrics"
	"go.uber.org/zap"
)

// Result codes of the integer call surface.
const (
	CodeUnavailable    int64 = -1
	CodeAlreadyMatches int64 = -2
	CodeNotFound       int64 = -3
)

// MaxBlockSize is the largest block whose bit indices all fit below the
// NotFound sentinel.
const MaxBlockSize = math.MaxUint32 / 8

var (
	// ErrDigestSize is returned when the reference digest has the wrong length.
	ErrDigestSize = errors.New("bruteforce: reference digest has wrong size")
	// ErrBlockTooLarge is returned for blocks longer than MaxBlockSize.
	ErrBlockTooLarge = errors.New("bruteforce: block too large")
)

// Kind classifies a search outcome.
type Kind int

const (
	Unavailable Kind = iota
	AlreadyMatches
	Found
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case AlreadyMatches:
		return "already_matches"
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Outcome is the result of one search. Bit is set only when Kind is Found.
type Outcome struct {
	Kind Kind
	Bit  uint32
}

// Code maps the outcome to the integer contract: -1 unavailable, -2 already
// matches, -3 not found, otherwise the bit index. Bit indices are never
// negative, whatever the platform's int size.
func (o Outcome) Code() int64 {
	switch o.Kind {
	case AlreadyMatches:
		return CodeAlreadyMatches
	case NotFound:
		return CodeNotFound
	case Found:
		return int64(o.Bit)
	default:
		return CodeUnavailable
	}
}

// BackendSource supplies the execution backend. It is only consulted once a
// search actually needs the GPU.
type BackendSource interface {
	Backend() gpu.Backend
}

// Dispatcher is the entry point for single-bit-flip searches.
type Dispatcher struct {
	backends BackendSource
	hasher   digest.Hasher
	maxBlock int
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher using hasher for the trivial-match check.
func NewDispatcher(backends BackendSource, hasher digest.Hasher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		backends: backends,
		hasher:   hasher,
		maxBlock: MaxBlockSize,
		logger:   logger.Named("bruteforce"),
	}
}

// Bruteforce looks for the bit of data whose flip makes its digest equal to
// ref. Capability absence and an exhausted search are outcomes, not errors;
// errors mean the selected backend failed to load or run.
func (d *Dispatcher) Bruteforce(data, ref []byte) (Outcome, error) {
	if digest.IsEqual(ref, d.hasher.Sum(data)) {
		d.record(Outcome{Kind: AlreadyMatches}, "none", time.Time{})
		return Outcome{Kind: AlreadyMatches}, nil
	}

	backend := d.backends.Backend()
	if backend.Kind() == gpu.Unavailable {
		d.record(Outcome{Kind: Unavailable}, backend.Kind().String(), time.Time{})
		return Outcome{Kind: Unavailable}, nil
	}
	if len(ref) != d.hasher.Size() {
		return Outcome{}, fmt.Errorf("%w: got %d bytes, want %d", ErrDigestSize, len(ref), d.hasher.Size())
	}
	if len(data) > d.maxBlock {
		return Outcome{}, fmt.Errorf("%w: %d bytes, at most %d", ErrBlockTooLarge, len(data), d.maxBlock)
	}
	if len(data) == 0 {
		// No bit to flip.
		d.record(Outcome{Kind: NotFound}, backend.Kind().String(), time.Time{})
		return Outcome{Kind: NotFound}, nil
	}

	variant := gpu.VariantFor(len(data))
	start := time.Now()
	raw, err := backend.BruteforceBits(variant, data, ref)
	if err != nil {
		metrics.BruteforceErrors.WithLabelValues(backend.Kind().String()).Inc()
		d.logger.Error("search failed",
			zap.Stringer("backend", backend.Kind()),
			zap.Stringer("variant", variant),
			zap.Int("size", len(data)),
			zap.Error(err))
		return Outcome{}, fmt.Errorf("bruteforce %d bytes on %s backend: %w", len(data), backend.Kind(), err)
	}

	outcome := Outcome{Kind: NotFound}
	if raw != gpu.NotFound {
		if uint64(raw) >= uint64(len(data))*8 {
			metrics.BruteforceErrors.WithLabelValues(backend.Kind().String()).Inc()
			d.logger.Error("backend returned bit outside block",
				zap.Stringer("backend", backend.Kind()),
				zap.Uint32("bit", raw),
				zap.Int("size", len(data)))
			return Outcome{}, fmt.Errorf("%w: bit %d outside %d byte block", gpu.ErrExecution, raw, len(data))
		}
		outcome = Outcome{Kind: Found, Bit: raw}
	}
	d.record(outcome, backend.Kind().String(), start)
	d.logger.Debug("search completed",
		zap.Stringer("backend", backend.Kind()),
		zap.Stringer("variant", variant),
		zap.Int("size", len(data)),
		zap.Stringer("outcome", outcome.Kind),
		zap.Int64("code", outcome.Code()),
		zap.Duration("elapsed", time.Since(start)))
	return outcome, nil
}

func (d *Dispatcher) record(o Outcome, backend string, start time.Time) {
	metrics.BruteforceOutcomes.WithLabelValues(o.Kind.String(), backend).Inc()
	if !start.IsZero() {
		metrics.BruteforceDuration.Observe(float64(time.Since(start).Milliseconds()))
	}
}

// FlipBit inverts bit i of data in place, counting from the least
// significant bit of data[0].
func FlipBit(data []byte, i uint32) {
	data[i/8] ^= 1 << (i % 8)
}
