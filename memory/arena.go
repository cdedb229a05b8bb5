// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package memory

import "fmt"

// arenaAlignment is the alignment of every arena allocation.
const arenaAlignment = 8

// Arena is a bump allocator over blocks borrowed from a BlockPool.
//
// Allocations are never freed individually; Reset returns every block at
// once. Requests larger than a block are served directly from the pool's
// host allocator and freed on Reset.
//
// Arena is NOT safe for concurrent use. It backs a single recording stream.
type Arena struct {
	pool      *BlockPool
	blocks    []*Block
	offset    int
	oversized [][]byte
	allocated int
}

// NewArena creates an empty arena. No block is acquired until the first
// allocation.
func NewArena(pool *BlockPool) *Arena {
	return &Arena{pool: pool}
}

// Allocate returns size zeroed bytes valid until the next Reset.
func (a *Arena) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size == 0 {
		return []byte{}, nil
	}

	if size > a.pool.BlockSize() {
		b, err := a.pool.Allocator().Allocate(size, arenaAlignment)
		if err != nil {
			return nil, fmt.Errorf("memory: arena oversized allocation: %w", err)
		}
		a.oversized = append(a.oversized, b)
		a.allocated += size
		return b, nil
	}

	off := alignUp(a.offset, arenaAlignment)
	if len(a.blocks) == 0 || off+size > a.pool.BlockSize() {
		blk, err := a.pool.Acquire()
		if err != nil {
			return nil, fmt.Errorf("memory: arena grow: %w", err)
		}
		a.blocks = append(a.blocks, blk)
		off = 0
	}

	data := a.blocks[len(a.blocks)-1].Bytes()
	a.offset = off + size
	a.allocated += size
	return data[off : off+size : off+size], nil
}

// Clone copies src into arena memory.
func (a *Arena) Clone(src []byte) ([]byte, error) {
	dst, err := a.Allocate(len(src))
	if err != nil {
		return nil, err
	}
	copy(dst, src)
	return dst, nil
}

// Allocated returns the number of bytes handed out since the last Reset.
func (a *Arena) Allocated() int { return a.allocated }

// BlockCount returns the number of pool blocks currently held.
func (a *Arena) BlockCount() int { return len(a.blocks) }

// Reset returns all memory to the pool. Slices handed out before Reset
// must no longer be used.
func (a *Arena) Reset() {
	if len(a.blocks) > 0 {
		a.pool.Release(a.blocks...)
		clear(a.blocks)
		a.blocks = a.blocks[:0]
	}
	for _, b := range a.oversized {
		a.pool.Allocator().Free(b)
	}
	clear(a.oversized)
	a.oversized = a.oversized[:0]
	a.offset = 0
	a.allocated = 0
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
