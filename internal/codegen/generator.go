package codegen

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
)

const randomBufferSize = 256

// Generator produces random codes that avoid a known set.
type Generator struct {
	alphabet string
	random   io.Reader
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return newGeneratorWithReader(rand.Reader)
}

func newGeneratorWithReader(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{
		alphabet: Alphabet,
		random:   r,
	}
}

// Generate returns exactly count distinct codes of the form prefix+suffix,
// none of which is present in avoid. avoid is not modified.
func (g *Generator) Generate(prefix string, length int, count int, avoid map[string]struct{}) ([]string, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: code length must be positive", domain.ErrValidation)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: count must not be negative", domain.ErrValidation)
	}
	if int64(count) > SuffixSpace(length) {
		return nil, fmt.Errorf("%w: count %d exceeds the %d-character suffix space", domain.ErrValidation, count, length)
	}

	codes := make([]string, 0, count)
	minted := make(map[string]struct{}, count)
	src := newByteSource(g.random, len(g.alphabet))
	suffix := make([]byte, length)

	for len(codes) < count {
		for i := range suffix {
			idx, err := src.next()
			if err != nil {
				return nil, fmt.Errorf("failed to read random bytes: %w", err)
			}
			suffix[i] = g.alphabet[idx]
		}

		code := Format(prefix, string(suffix))
		if _, taken := avoid[code]; taken {
			continue
		}
		if _, taken := minted[code]; taken {
			continue
		}
		minted[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

// byteSource yields uniform indexes in [0, n) using rejection sampling.
type byteSource struct {
	r     io.Reader
	n     int
	limit int
	buf   []byte
	pos   int
}

func newByteSource(r io.Reader, n int) *byteSource {
	return &byteSource{
		r:     r,
		n:     n,
		limit: 256 - 256%n,
		buf:   make([]byte, randomBufferSize),
		pos:   randomBufferSize,
	}
}

func (s *byteSource) next() (int, error) {
	for {
		if s.pos >= len(s.buf) {
			if _, err := io.ReadFull(s.r, s.buf); err != nil {
				return 0, err
			}
			s.pos = 0
		}
		b := int(s.buf[s.pos])
		s.pos++
		if b < s.limit {
			return b % s.n, nil
		}
	}
}
