// Package memory models the external bulk memory (DDR on the original
// platform) that holds feature maps, weights, and batch-norm parameters.
//
// The engine is handed base addresses into a Bank; it never owns the tensors
// themselves. A Bank is a flat array of narrow fixed-point words with a bump
// allocator, so tests and the driver can lay out regions the way the
// accelerator firmware laid out DDR.
package memory

import (
	"errors"
	"fmt"

	"github.com/samcharles93/tileflow/internal/fixed"
)

// ErrResourceOverflow reports that a requested region does not fit the bank.
// This is a configuration-time concern, never a per-element runtime fault.
var ErrResourceOverflow = errors.New("bulk memory resource overflow")

// Addr is a word offset into a Bank.
type Addr int

// Bank is a flat bulk-memory array of narrow fixed-point words.
type Bank struct {
	words []fixed.Word
	next  Addr
}

// NewBank allocates a bank with capacity words, all zero.
func NewBank(capacity int) *Bank {
	if capacity < 0 {
		panic("memory: negative bank capacity")
	}
	return &Bank{words: make([]fixed.Word, capacity)}
}

// Cap returns the bank capacity in words.
func (b *Bank) Cap() int { return len(b.words) }

// Alloc reserves n words and returns their base address. Regions are never
// freed individually; Reset reclaims everything.
func (b *Bank) Alloc(n int) (Addr, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative allocation %d", ErrResourceOverflow, n)
	}
	if int(b.next)+n > len(b.words) {
		return 0, fmt.Errorf("%w: need %d words at %d, capacity %d",
			ErrResourceOverflow, n, b.next, len(b.words))
	}
	base := b.next
	b.next += Addr(n)
	return base, nil
}

// Reset reclaims all allocations. Existing contents are left in place.
func (b *Bank) Reset() { b.next = 0 }

// CheckRange verifies that [base, base+n) lies inside the bank.
func (b *Bank) CheckRange(base Addr, n int) error {
	if base < 0 || n < 0 || int(base)+n > len(b.words) {
		return fmt.Errorf("%w: range [%d,%d) exceeds capacity %d",
			ErrResourceOverflow, base, int(base)+n, len(b.words))
	}
	return nil
}

// Words returns the slice covering [base, base+n). The caller indexes it
// directly; out-of-range access panics like any slice.
func (b *Bank) Words(base Addr, n int) []fixed.Word {
	return b.words[base : int(base)+n]
}
