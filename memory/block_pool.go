// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package memory

import (
	"errors"
	"fmt"
	"sync"
)

// Block pool errors.
var (
	// ErrPoolClosed is returned when acquiring from a closed block pool.
	ErrPoolClosed = errors.New("memory: block pool is closed")

	// ErrBlocksOutstanding is returned by Close while blocks are still in use.
	ErrBlocksOutstanding = errors.New("memory: blocks still acquired from pool")

	// ErrInvalidBlockSize is returned for a non-positive block size.
	ErrInvalidBlockSize = errors.New("memory: block size must be positive")
)

// DefaultBlockSize is the block size used by device contexts unless
// configured otherwise.
const DefaultBlockSize = 32 * 1024

// Block is a fixed-size chunk of host memory handed out by a BlockPool.
type Block struct {
	data []byte
	pool *BlockPool
}

// Bytes returns the block storage. Its length is the pool's block size.
func (b *Block) Bytes() []byte { return b.data }

// BlockPool recycles fixed-size blocks of host memory.
//
// BlockPool is shared between every command buffer of a device and is safe
// for concurrent use. It must outlive every Arena built on it.
type BlockPool struct {
	blockSize int
	alloc     HostAllocator

	mu       sync.Mutex
	free     []*Block
	acquired int
	total    int
	closed   bool
}

// BlockPoolStats is a snapshot of block pool usage.
type BlockPoolStats struct {
	BlockSize int
	Total     int // blocks currently allocated from the host allocator
	Free      int // blocks ready for reuse
	Acquired  int // blocks handed out and not yet released
}

// NewBlockPool creates a pool of blockSize-byte blocks allocated from alloc.
// A nil allocator uses the Go heap.
func NewBlockPool(blockSize int, alloc HostAllocator) (*BlockPool, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}
	if alloc == nil {
		alloc = Heap()
	}
	return &BlockPool{
		blockSize: blockSize,
		alloc:     alloc,
	}, nil
}

// BlockSize returns the size in bytes of every block.
func (p *BlockPool) BlockSize() int { return p.blockSize }

// Allocator returns the host allocator backing the pool.
func (p *BlockPool) Allocator() HostAllocator { return p.alloc }

// Acquire returns a zeroed block, reusing a free one when available.
func (p *BlockPool) Acquire() (*Block, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.acquired++
		p.mu.Unlock()
		return b, nil
	}
	// Reserve the slot before allocating outside the lock.
	p.acquired++
	p.total++
	p.mu.Unlock()

	data, err := p.alloc.Allocate(p.blockSize, naturalAlignment)
	if err != nil {
		p.mu.Lock()
		p.acquired--
		p.total--
		p.mu.Unlock()
		return nil, fmt.Errorf("memory: allocate block: %w", err)
	}
	return &Block{data: data, pool: p}, nil
}

// Release returns blocks to the pool. Blocks are zeroed before reuse.
func (p *BlockPool) Release(blocks ...*Block) {
	if len(blocks) == 0 {
		return
	}
	for _, b := range blocks {
		if b.pool != p {
			panic("memory: block released to a pool that did not allocate it")
		}
		clear(b.data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquired -= len(blocks)
	if p.acquired < 0 {
		panic("memory: more blocks released than acquired")
	}
	p.free = append(p.free, blocks...)
}

// Trim returns every free block to the host allocator.
func (p *BlockPool) Trim() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.total -= len(free)
	p.mu.Unlock()

	for _, b := range free {
		p.alloc.Free(b.data)
		b.data = nil
	}
}

// Close trims the pool and rejects further acquisitions. It fails while
// blocks are still acquired; the caller must release every arena first.
func (p *BlockPool) Close() error {
	p.mu.Lock()
	if p.acquired > 0 {
		n := p.acquired
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBlocksOutstanding, n)
	}
	p.closed = true
	p.mu.Unlock()

	p.Trim()
	return nil
}

// Stats returns a snapshot of pool usage.
func (p *BlockPool) Stats() BlockPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return BlockPoolStats{
		BlockSize: p.blockSize,
		Total:     p.total,
		Free:      len(p.free),
		Acquired:  p.acquired,
	}
}
