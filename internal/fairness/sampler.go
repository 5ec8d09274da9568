package fairness

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmptySecret     = errors.New("secret is empty")
	ErrInvalidPoolSize = errors.New("pool size must be >= 1")
	ErrInvalidDrawSize = errors.New("draw size must be in [0, pool size]")
)

// Sample deterministically derives a draw of drawSize distinct numbers in
// [1, poolSize] from the committed secret and the published round parameters.
// Identical inputs always produce identical output; the function performs no
// I/O and reads no clock, so any third party can replay it.
//
// The pseudorandom stream is HMAC-SHA256 keyed by secret||clientSeed over the
// message "<nonce>:<block>", where block is a counter starting at 0. Each
// HMAC invocation yields 32 bytes; the stream is consumed in 4-byte
// big-endian windows. When a block is exhausted the counter is incremented
// and a fresh block is derived, never reusing bytes.
//
// The shuffle is a Fisher-Yates pass over [1..poolSize] from the top index
// down. Each swap index is drawn by rejection sampling: a 4-byte window is
// rejected when its value is >= floor(2^32/n)*n for range n, which removes
// modulo bias. The first drawSize entries of the shuffled sequence are
// returned sorted ascending.
func Sample(secret []byte, clientSeed string, nonce uint64, poolSize, drawSize int) ([]int, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if poolSize < 1 {
		return nil, ErrInvalidPoolSize
	}
	if drawSize < 0 || drawSize > poolSize {
		return nil, ErrInvalidDrawSize
	}
	if drawSize == 0 {
		return []int{}, nil
	}

	seq := make([]int, poolSize)
	for i := range seq {
		seq[i] = i + 1
	}

	stream := newByteStream(secret, clientSeed, nonce)
	for i := poolSize - 1; i >= 1; i-- {
		j := stream.uniformIndex(uint64(i + 1)) // uniform in [0, i]
		seq[i], seq[j] = seq[j], seq[i]
	}

	numbers := make([]int, drawSize)
	copy(numbers, seq[:drawSize])
	sort.Ints(numbers)
	return numbers, nil
}

// byteStream yields the keyed pseudorandom byte stream, one HMAC block at a
// time.
type byteStream struct {
	key    []byte
	nonce  uint64
	block  uint64
	buf    [sha256.Size]byte
	cursor int
}

func newByteStream(secret []byte, clientSeed string, nonce uint64) *byteStream {
	key := make([]byte, 0, len(secret)+len(clientSeed))
	key = append(key, secret...)
	key = append(key, clientSeed...)
	return &byteStream{key: key, nonce: nonce, cursor: sha256.Size}
}

func (s *byteStream) fill() {
	h := hmac.New(sha256.New, s.key)
	fmt.Fprintf(h, "%d:%d", s.nonce, s.block)
	copy(s.buf[:], h.Sum(nil))
	s.block++
	s.cursor = 0
}

func (s *byteStream) next4() uint32 {
	var w [4]byte
	for i := range w {
		if s.cursor == sha256.Size {
			s.fill()
		}
		w[i] = s.buf[s.cursor]
		s.cursor++
	}
	return binary.BigEndian.Uint32(w[:])
}

// uniformIndex returns a uniform value in [0, n) by rejection sampling over
// 4-byte windows. Windows >= floor(2^32/n)*n would bias the modulo and are
// redrawn.
func (s *byteStream) uniformIndex(n uint64) int {
	bound := (1 << 32 / n) * n
	for {
		v := uint64(s.next4())
		if v < bound {
			return int(v % n)
		}
	}
}
