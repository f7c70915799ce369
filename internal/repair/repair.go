// Package repair verifies a file piece by piece against expected digests and
// fixes pieces damaged by a single flipped bit.
package repair

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/konard/BitrotBruteforce/internal/bruteforce"
	"github.com/konard/BitrotBruteforce/internal/digest"
	"github.com/konard/BitrotBruteforce/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrPieceCount means the digest list does not cover the file exactly.
	ErrPieceCount = errors.New("repair: digest count does not match piece count")
	// ErrPieceLength means the piece length is not positive.
	ErrPieceLength = errors.New("repair: piece length must be positive")
)

// Searcher runs single-bit-flip searches.
type Searcher interface {
	Bruteforce(data, ref []byte) (bruteforce.Outcome, error)
}

// Status is what happened to one piece.
type Status int

const (
	// Intact pieces already match their digest.
	Intact Status = iota
	// Repaired pieces had their flipped bit found and corrected.
	Repaired
	// Located pieces had their flipped bit found but were left unchanged.
	Located
	// Unrecoverable pieces need more than one bit flip.
	Unrecoverable
	// Skipped pieces could not be searched because no backend is available.
	Skipped
)

func (s Status) String() string {
	switch s {
	case Intact:
		return "intact"
	case Repaired:
		return "repaired"
	case Located:
		return "located"
	case Unrecoverable:
		return "unrecoverable"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result reports one piece.
type Result struct {
	Piece  int
	Offset int64
	Length int
	Status Status
	// Bit is the flipped bit within the piece for Repaired and Located.
	Bit uint32
}

// Repairer checks files against piece digests.
type Repairer struct {
	searcher Searcher
	hasher   digest.Hasher
	write    bool
	logger   *zap.Logger
}

// NewRepairer creates a repairer. With write set, repaired pieces are
// written back to the file.
func NewRepairer(searcher Searcher, hasher digest.Hasher, write bool, logger *zap.Logger) *Repairer {
	return &Repairer{
		searcher: searcher,
		hasher:   hasher,
		write:    write,
		logger:   logger.Named("repair"),
	}
}

// RepairFile verifies path in pieces of pieceLength bytes, the last one
// possibly shorter, against digests, one per piece. It stops at the first
// search error and returns the results gathered so far.
func (r *Repairer) RepairFile(path string, pieceLength int, digests [][]byte) ([]Result, error) {
	if pieceLength <= 0 {
		return nil, ErrPieceLength
	}

	flag := os.O_RDONLY
	if r.write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pieces := int((info.Size() + int64(pieceLength) - 1) / int64(pieceLength))
	if pieces != len(digests) {
		return nil, fmt.Errorf("%w: %d pieces of %d bytes, %d digests", ErrPieceCount, pieces, pieceLength, len(digests))
	}

	results := make([]Result, 0, pieces)
	buf := make([]byte, pieceLength)
	for i := 0; i < pieces; i++ {
		offset := int64(i) * int64(pieceLength)
		n, err := f.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return results, fmt.Errorf("read piece %d: %w", i, err)
		}
		piece := buf[:n]
		metrics.BytesVerified.Add(float64(n))

		result, err := r.repairPiece(f, i, offset, piece, digests[i])
		if err != nil {
			return results, err
		}
		metrics.PiecesVerified.WithLabelValues(result.Status.String()).Inc()
		results = append(results, result)
	}
	return results, nil
}

func (r *Repairer) repairPiece(f *os.File, i int, offset int64, piece, want []byte) (Result, error) {
	result := Result{Piece: i, Offset: offset, Length: len(piece)}

	outcome, err := r.searcher.Bruteforce(piece, want)
	if err != nil {
		return result, fmt.Errorf("piece %d: %w", i, err)
	}

	switch outcome.Kind {
	case bruteforce.AlreadyMatches:
		result.Status = Intact
		return result, nil
	case bruteforce.Unavailable:
		result.Status = Skipped
		r.logger.Warn("piece damaged, no GPU backend to search it", zap.Int("piece", i))
		return result, nil
	case bruteforce.NotFound:
		result.Status = Unrecoverable
		r.logger.Warn("piece damaged beyond a single bit flip", zap.Int("piece", i), zap.Int64("offset", offset))
		return result, nil
	}

	result.Bit = outcome.Bit
	if int(outcome.Bit/8) >= len(piece) {
		return result, fmt.Errorf("piece %d: bit %d outside %d byte piece", i, outcome.Bit, len(piece))
	}
	bruteforce.FlipBit(piece, outcome.Bit)
	if !digest.IsEqual(r.hasher.Sum(piece), want) {
		return result, fmt.Errorf("piece %d: flipping bit %d does not reproduce the digest", i, outcome.Bit)
	}

	if !r.write {
		result.Status = Located
		r.logger.Info("flipped bit located", zap.Int("piece", i), zap.Uint32("bit", outcome.Bit))
		return result, nil
	}

	byteOffset := offset + int64(outcome.Bit/8)
	if _, err := f.WriteAt(piece[outcome.Bit/8:outcome.Bit/8+1], byteOffset); err != nil {
		return result, fmt.Errorf("piece %d: write repaired byte: %w", i, err)
	}
	result.Status = Repaired
	r.logger.Info("piece repaired",
		zap.Int("piece", i),
		zap.Uint32("bit", outcome.Bit),
		zap.Int64("byte_offset", byteOffset))
	return result, nil
}

// ReadDigests reads one hex encoded digest per line. Blank lines and lines
// starting with # are ignored.
func ReadDigests(r io.Reader, size int) ([][]byte, error) {
	var digests [][]byte
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		d, err := ParseDigest(text, size)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		digests = append(digests, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return digests, nil
}

// ParseDigest decodes a hex digest of size bytes.
func ParseDigest(s string, size int) ([]byte, error) {
	d, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode digest: %w", err)
	}
	if len(d) != size {
		return nil, fmt.Errorf("digest is %d bytes, want %d", len(d), size)
	}
	return d, nil
}
