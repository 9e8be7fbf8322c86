// Package fingerprint computes tolerant signatures of log text.
//
// A Fingerprint is a fixed 1024-bit vector. Every normalized line sets one
// bit and every pair of adjacent lines sets another, so local edits only
// move a handful of bits while a different log shares almost none.
package fingerprint

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Bits is the fingerprint length
const Bits = 1024

// encodedBytes is the raw size of an encoded fingerprint
const encodedBytes = Bits / 8

// lineWidth is the column at which Literal wraps the encoded text
const lineWidth = 76

// DefaultThreshold is the minimum similarity that counts as a match
const DefaultThreshold = 0.9

// ErrBadLength is returned when a decoded fingerprint is not Bits long
var ErrBadLength = errors.New("fingerprint has wrong length")

// Fingerprint is an immutable bit vector over normalized log lines
type Fingerprint struct {
	set *bitset.BitSet
}

// FromLines builds a fingerprint from already normalized lines
func FromLines(lines []string) Fingerprint {
	set := bitset.New(Bits)
	for i, line := range lines {
		set.Set(bucket(line))
		if i > 0 {
			set.Set(bucket(lines[i-1] + "\n" + line))
		}
	}
	return Fingerprint{set: set}
}

// Compute normalizes text with n and fingerprints the result. A nil
// normalizer means DefaultNormalizer.
func Compute(text string, n *Normalizer) Fingerprint {
	if n == nil {
		n = DefaultNormalizer()
	}
	return FromLines(n.Lines(text))
}

func bucket(s string) uint {
	return uint(xxhash.Sum64String(s) % Bits)
}

func (f Fingerprint) bits() *bitset.BitSet {
	if f.set == nil {
		return bitset.New(Bits)
	}
	return f.set
}

// Count returns the number of set bits
func (f Fingerprint) Count() int {
	return int(f.bits().Count())
}

// Equal reports whether both fingerprints have the same bits set
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.bits().Equal(other.bits())
}

// Similarity is the Jaccard index of the set bits: one minus the share of
// differing bits among all bits set on either side. Two empty fingerprints
// are identical.
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	a, b := f.bits(), other.bits()
	union := a.UnionCardinality(b)
	if union == 0 {
		return 1.0
	}
	return 1.0 - float64(a.SymmetricDifferenceCardinality(b))/float64(union)
}

// Agreement is the fraction of all bit positions on which both fingerprints
// agree. Sketches of short logs set few bits, so agreement stays close to 1
// even when every line differs; Similarity is what verdicts are judged on.
func (f Fingerprint) Agreement(other Fingerprint) float64 {
	return 1.0 - float64(f.bits().SymmetricDifferenceCardinality(other.bits()))/float64(Bits)
}

// DivergentBits lists the bit positions set on exactly one side
func (f Fingerprint) DivergentBits(other Fingerprint) []int {
	diff := f.bits().SymmetricDifference(other.bits())
	var out []int
	for i, ok := diff.NextSet(0); ok; i, ok = diff.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}

// Bytes returns the raw vector, bit i stored in byte i/8 at position i%8
func (f Fingerprint) Bytes() []byte {
	out := make([]byte, encodedBytes)
	set := f.bits()
	for i, ok := set.NextSet(0); ok && i < Bits; i, ok = set.NextSet(i + 1) {
		out[i/8] |= 1 << (i % 8)
	}
	return out
}

// String returns the encoded fingerprint on a single line
func (f Fingerprint) String() string {
	return base64.StdEncoding.EncodeToString(f.Bytes())
}

// Literal returns the encoded fingerprint wrapped for embedding in a
// driver file.
func (f Fingerprint) Literal() string {
	s := f.String()
	var b strings.Builder
	for len(s) > lineWidth {
		b.WriteString(s[:lineWidth])
		b.WriteByte('\n')
		s = s[lineWidth:]
	}
	b.WriteString(s)
	return b.String()
}

// Decode parses an encoded fingerprint. Whitespace, including the line
// breaks Literal inserts, is ignored.
func Decode(s string) (Fingerprint, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("decoding fingerprint: %w", err)
	}
	if len(raw) != encodedBytes {
		return Fingerprint{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadLength, len(raw), encodedBytes)
	}
	set := bitset.New(Bits)
	for i, c := range raw {
		for j := uint(0); j < 8; j++ {
			if c&(1<<j) != 0 {
				set.Set(uint(i)*8 + j)
			}
		}
	}
	return Fingerprint{set: set}, nil
}
