// Package obfuscate provides a reversible keyed permutation of numeric ids,
// so sequential database ids are not exposed in buyer-facing URLs.
//
// This is cosmetic, not a security boundary: an attacker who cares can still
// enumerate. Authorization checks remain the actual access control.
package obfuscate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
)

// ErrMalformed is returned by Show for input that is not a well-formed
// obfuscated id.
var ErrMalformed = errors.New("malformed obfuscated id")

const (
	rounds   = 4
	halfBits = 31
	halfMask = int64(1)<<halfBits - 1
	maxID    = int64(1)<<(2*halfBits) - 1
)

// Coder hides and reveals int64 ids with a balanced Feistel network keyed
// by an installation secret. The permutation is a bijection over
// [0, 2^62), so Show(Hide(id)) == id for every non-negative id in range.
type Coder struct {
	key []byte
}

// New returns a Coder keyed with the given secret.
func New(key string) *Coder {
	return &Coder{key: []byte(key)}
}

// Hide maps id to its obfuscated decimal string form, zero-padded so all
// outputs have a uniform width. id must be in [0, 2^62): the permutation
// ignores the top two bits, so larger values collide with smaller ones.
// Order ids are sequential database values that never approach the bound.
func (c *Coder) Hide(id int64) string {
	return fmt.Sprintf("%019d", c.permute(id, 0, rounds, 1))
}

// Show reverses Hide. It returns ErrMalformed for non-numeric, negative,
// or out-of-range input.
func (c *Coder) Show(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 || v > maxID {
		return 0, ErrMalformed
	}
	return c.permute(v, rounds-1, -1, -1), nil
}

// permute runs the Feistel rounds from start (exclusive of stop) stepping
// by dir: forward for Hide, backward for Show.
func (c *Coder) permute(v int64, start, stop, dir int) int64 {
	left := (v >> halfBits) & halfMask
	right := v & halfMask

	for i := start; i != stop; i += dir {
		left, right = right, left^c.roundValue(right, i)
	}

	// One extra swap cancels the final in-loop swap, making the inverse
	// walk the identical structure with reversed round order.
	return (right << halfBits) | left
}

func (c *Coder) roundValue(half int64, round int) int64 {
	mac := hmac.New(sha256.New, c.key)

	var buf [9]byte
	buf[0] = byte(round)
	binary.BigEndian.PutUint64(buf[1:], uint64(half))
	mac.Write(buf[:])

	sum := mac.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8])) & halfMask
}
