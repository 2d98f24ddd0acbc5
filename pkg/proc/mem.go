package proc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const cacheEnabled = true

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrShortRead is returned when fewer bytes than requested could be read
// from the target.
var ErrShortRead = errors.New("short read")

type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReader
}

func (m *memCache) contains(addr uint64, size int) bool {
	end := addr + uint64(size)
	if end < addr {
		// overflow
		return false
	}
	return addr >= m.cacheAddr && end <= m.cacheAddr+uint64(len(m.cache))
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}

	return m.mem.ReadMemory(data, addr)
}

func cacheMemory(mem MemoryReader, addr uint64, size int) MemoryReader {
	if !cacheEnabled {
		return mem
	}
	if size <= 0 || size > maxCacheSize {
		return mem
	}
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return mem
		}
		mem = cacheMem.mem
	}
	cache := make([]byte, size)
	if err := readFull(mem, cache, addr); err != nil {
		return mem
	}
	return &memCache{addr, cache, mem}
}

// maxCacheSize is the largest block cacheMemory will prefetch.
const maxCacheSize = 1 << 16

func readFull(mem MemoryReader, buf []byte, addr uint64) error {
	if mem == nil {
		return errors.New("no memory to read from")
	}
	n, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortRead
	}
	return nil
}

// MemoryRegion is a contiguous range of target addresses.
type MemoryRegion struct {
	Addr uint64
	Size uint64
}

func (r MemoryRegion) end() uint64 { return r.Addr + r.Size }

func (r MemoryRegion) String() string {
	return fmt.Sprintf("%#x-%#x", r.Addr, r.end())
}

// RecordingMemory wraps a MemoryReader and remembers every region that
// was read successfully. Adjacent and overlapping regions are merged.
type RecordingMemory struct {
	mem MemoryReader

	mu      sync.Mutex
	regions []MemoryRegion
}

// NewRecordingMemory returns a RecordingMemory reading from mem.
func NewRecordingMemory(mem MemoryReader) *RecordingMemory {
	return &RecordingMemory{mem: mem}
}

// ReadMemory implements MemoryReader.
func (m *RecordingMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	n, err := m.mem.ReadMemory(buf, addr)
	if n > 0 {
		m.add(MemoryRegion{Addr: addr, Size: uint64(n)})
	}
	return n, err
}

func (m *RecordingMemory) add(r MemoryRegion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].end() >= r.Addr
	})
	j := i
	for j < len(m.regions) && m.regions[j].Addr <= r.end() {
		if m.regions[j].Addr < r.Addr {
			r.Size += r.Addr - m.regions[j].Addr
			r.Addr = m.regions[j].Addr
		}
		if m.regions[j].end() > r.end() {
			r.Size = m.regions[j].end() - r.Addr
		}
		j++
	}
	regions := make([]MemoryRegion, 0, len(m.regions)-(j-i)+1)
	regions = append(regions, m.regions[:i]...)
	regions = append(regions, r)
	regions = append(regions, m.regions[j:]...)
	m.regions = regions
}

// Regions returns the regions read so far, sorted by address.
func (m *RecordingMemory) Regions() []MemoryRegion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemoryRegion(nil), m.regions...)
}

// Reset forgets all recorded regions.
func (m *RecordingMemory) Reset() {
	m.mu.Lock()
	m.regions = nil
	m.mu.Unlock()
}
