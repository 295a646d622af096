// Package idgen generates push keys: 20-character child keys that sort in
// creation order. The first 8 characters encode the creation time in
// milliseconds; the remaining 12 are random and come from nanoid.
package idgen

import (
	"fmt"
	"strings"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is ordered by ASCII value so that byte-wise comparison of keys
// matches numeric comparison of the encoded time.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	timeLength   = 8
	randomLength = 12

	// Length is the total length of a push key.
	Length = timeLength + randomLength
)

// Generator produces push keys. Keys generated within the same millisecond
// increment the random suffix of the previous key, so one Generator never
// produces out-of-order or duplicate keys.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime int64
	lastRand []int
}

// New returns a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// WithClock returns a Generator reading time from now. Intended for tests.
func WithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

var defaultGenerator = New()

// PushKey returns a key from the package-level generator.
func PushKey() (string, error) {
	return defaultGenerator.Next()
}

// Next returns the next push key.
func (g *Generator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms == g.lastTime && g.lastRand != nil {
		increment(g.lastRand)
	} else {
		r, err := nanoid.Generate(Alphabet, randomLength)
		if err != nil {
			return "", fmt.Errorf("idgen: %w", err)
		}
		g.lastRand = make([]int, randomLength)
		for i := 0; i < randomLength; i++ {
			g.lastRand[i] = strings.IndexByte(Alphabet, r[i])
		}
		g.lastTime = ms
	}

	var b strings.Builder
	b.Grow(Length)
	b.WriteString(encodeTime(ms))
	for _, idx := range g.lastRand {
		b.WriteByte(Alphabet[idx])
	}
	return b.String(), nil
}

func encodeTime(ms int64) string {
	var buf [timeLength]byte
	for i := timeLength - 1; i >= 0; i-- {
		buf[i] = Alphabet[ms%64]
		ms /= 64
	}
	return string(buf[:])
}

// increment adds one to the base-64 digits, carrying leftwards.
func increment(digits []int) {
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < len(Alphabet)-1 {
			digits[i]++
			return
		}
		digits[i] = 0
	}
}

// Timestamp decodes the creation time embedded in a push key.
func Timestamp(key string) (time.Time, error) {
	if len(key) != Length {
		return time.Time{}, fmt.Errorf("idgen: key %q has length %d, want %d", key, len(key), Length)
	}
	var ms int64
	for i := 0; i < timeLength; i++ {
		idx := strings.IndexByte(Alphabet, key[i])
		if idx < 0 {
			return time.Time{}, fmt.Errorf("idgen: key %q has invalid character %q", key, key[i])
		}
		ms = ms*64 + int64(idx)
	}
	return time.UnixMilli(ms), nil
}
