package proaudio

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Size classes for transfer buffers, in bytes
const (
	smallTransferSize  = 4096
	mediumTransferSize = 16384
	largeTransferSize  = 65536
)

// TransferBuffer carries one released consumer buffer to the driver callback
type TransferBuffer struct {
	Data []byte
	Size int
	pool *TransferPool
}

// Reset clears the buffer for reuse
func (tb *TransferBuffer) Reset() {
	clear(tb.Data)
	tb.Size = 0
}

// Release returns the buffer to its pool for reuse
func (tb *TransferBuffer) Release() {
	if tb.pool != nil {
		tb.pool.Put(tb)
	}
}

// TransferPool keeps transfer buffers in size-class pools so the steady
// state of get/release pairs does not allocate
type TransferPool struct {
	smallPool  *sync.Pool
	mediumPool *sync.Pool
	largePool  *sync.Pool

	smallHits  atomic.Int64
	mediumHits atomic.Int64
	largeHits  atomic.Int64
	smallMiss  atomic.Int64
	mediumMiss atomic.Int64
	largeMiss  atomic.Int64
	oversized  atomic.Int64
}

// NewTransferPool creates a transfer pool
func NewTransferPool() *TransferPool {
	pool := &TransferPool{}

	pool.smallPool = &sync.Pool{
		New: func() interface{} {
			pool.smallMiss.Add(1)
			return &TransferBuffer{Data: make([]byte, smallTransferSize), pool: pool}
		},
	}
	pool.mediumPool = &sync.Pool{
		New: func() interface{} {
			pool.mediumMiss.Add(1)
			return &TransferBuffer{Data: make([]byte, mediumTransferSize), pool: pool}
		},
	}
	pool.largePool = &sync.Pool{
		New: func() interface{} {
			pool.largeMiss.Add(1)
			return &TransferBuffer{Data: make([]byte, largeTransferSize), pool: pool}
		},
	}

	return pool
}

// Get returns a buffer of exactly size bytes
func (p *TransferPool) Get(size int) *TransferBuffer {
	if size > largeTransferSize {
		p.oversized.Add(1)
		return &TransferBuffer{Data: make([]byte, size), Size: size, pool: p}
	}

	var buffer *TransferBuffer
	switch {
	case size <= smallTransferSize:
		buffer = p.smallPool.Get().(*TransferBuffer)
		p.smallHits.Add(1)
	case size <= mediumTransferSize:
		buffer = p.mediumPool.Get().(*TransferBuffer)
		p.mediumHits.Add(1)
	default:
		buffer = p.largePool.Get().(*TransferBuffer)
		p.largeHits.Add(1)
	}

	if size < 0 {
		size = 0
	}
	buffer.Data = buffer.Data[:size]
	buffer.Size = size
	return buffer
}

// Put returns a buffer to the pool matching its capacity
func (p *TransferPool) Put(buffer *TransferBuffer) {
	if buffer == nil || buffer.Data == nil {
		return
	}

	buffer.Data = buffer.Data[:cap(buffer.Data)]
	buffer.Reset()

	switch cap(buffer.Data) {
	case smallTransferSize:
		p.smallPool.Put(buffer)
	case mediumTransferSize:
		p.mediumPool.Put(buffer)
	case largeTransferSize:
		p.largePool.Put(buffer)
	default:
		// oversized buffers are left to the garbage collector
	}
}

// GetStatistics returns current pool utilization statistics
func (p *TransferPool) GetStatistics() map[string]int64 {
	return map[string]int64{
		"small_hits":  p.smallHits.Load(),
		"medium_hits": p.mediumHits.Load(),
		"large_hits":  p.largeHits.Load(),
		"small_miss":  p.smallMiss.Load(),
		"medium_miss": p.mediumMiss.Load(),
		"large_miss":  p.largeMiss.Load(),
		"oversized":   p.oversized.Load(),
	}
}

// StartReporter logs pool statistics every interval until stop is closed
func (p *TransferPool) StartReporter(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			stats := p.GetStatistics()
			totalHits := stats["small_hits"] + stats["medium_hits"] + stats["large_hits"]
			totalMiss := stats["small_miss"] + stats["medium_miss"] + stats["large_miss"]
			if totalHits == 0 {
				continue
			}
			reuse := float64(totalHits-totalMiss) / float64(totalHits) * 100
			log.Printf("TransferPool Stats: %d requests, %.1f%% reused (S:%d/%d M:%d/%d L:%d/%d, oversized %d)",
				totalHits, reuse,
				stats["small_hits"], stats["small_miss"],
				stats["medium_hits"], stats["medium_miss"],
				stats["large_hits"], stats["large_miss"],
				stats["oversized"])
		}
	}()
}
