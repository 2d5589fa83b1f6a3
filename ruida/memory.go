package ruida

import "sync"

// Well-known memory addresses (14-bit address space).
//
// Controllers expose far more addresses than are documented here; reads of
// unlisted addresses answer zero and writes to them are stored and returned
// verbatim, preserving their undocumented layouts.
const (
	MemAxisXPos uint16 = 0x0021 // live X position, µm
	MemAxisYPos uint16 = 0x0031 // live Y position, µm
	MemAxisZPos uint16 = 0x0041 // live Z position, µm
	MemAxisUPos uint16 = 0x0051 // live U position, µm

	MemBedWidth  uint16 = 0x0026 // X travel, µm
	MemBedHeight uint16 = 0x0036 // Y travel, µm

	MemMachineStatus uint16 = 0x0400

	MemStorageTotal uint16 = 0x0575 // job storage capacity, bytes
	MemStorageUsed  uint16 = 0x0576 // job storage in use, bytes

	MemCardID uint16 = 0x057E
)

// Addresses travel as two 7-bit-clean bytes; the uint16 form is the
// big-endian concatenation of that pair, which is how addresses are
// conventionally written (the card ID read carries 0x05 0x7E).

// appendAddr appends the two address bytes to dst.
func appendAddr(dst []byte, addr uint16) []byte {
	return append(dst, byte(addr>>8), byte(addr))
}

// decodeAddr reads the two address bytes from b.
func decodeAddr(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// validAddr reports whether both address bytes are 7-bit clean.
func validAddr(addr uint16) bool {
	return addr&0x8080 == 0
}

// Machine status word bits reported at MemMachineStatus.
const (
	StatusRunning uint64 = 1 << 0
	StatusPaused  uint64 = 1 << 1
)

// DefaultCardID is the card identifier reported by the emulator.
const DefaultCardID uint64 = 0x65006500 & 0x7_FFFF_FFFF

// MemEntry describes one memory address: a human-readable name and either a
// fixed value or a provider computing it on demand from live state.
type MemEntry struct {
	Name     string
	Value    uint64
	Provider func() uint64
}

// MemoryMap answers memory reads and absorbs memory writes for both the
// device simulator and the emulator.
//
// It is safe for concurrent use: reads may come from the session thread
// while jobs execute writes.
type MemoryMap struct {
	mu      sync.RWMutex
	entries map[uint16]MemEntry
	writes  map[uint16][2]uint64
}

// NewMemoryMap builds a MemoryMap for a machine with the given bed size in
// µm. driver, when non-nil, supplies the live position and status entries.
func NewMemoryMap(bedWidth, bedHeight int32, driver Driver) *MemoryMap {
	m := &MemoryMap{
		entries: map[uint16]MemEntry{
			MemBedWidth:     {Name: "bed width", Value: uint64(bedWidth)},
			MemBedHeight:    {Name: "bed height", Value: uint64(bedHeight)},
			MemCardID:       {Name: "card id", Value: DefaultCardID},
			MemStorageTotal: {Name: "storage total", Value: 128 << 20},
			MemStorageUsed:  {Name: "storage used"},
		},
		writes: make(map[uint16][2]uint64),
	}

	if driver != nil {
		pos := func(pick func(Position) int32) func() uint64 {
			return func() uint64 {
				p, _, _ := driver.Status()

				return uint64(uint32(pick(p)))
			}
		}
		m.entries[MemAxisXPos] = MemEntry{Name: "x position", Provider: pos(func(p Position) int32 { return p.X })}
		m.entries[MemAxisYPos] = MemEntry{Name: "y position", Provider: pos(func(p Position) int32 { return p.Y })}
		m.entries[MemAxisZPos] = MemEntry{Name: "z position", Provider: pos(func(p Position) int32 { return p.Z })}
		m.entries[MemAxisUPos] = MemEntry{Name: "u position", Provider: pos(func(p Position) int32 { return p.U })}
		m.entries[MemMachineStatus] = MemEntry{Name: "machine status", Provider: func() uint64 {
			_, state, _ := driver.Status()
			switch state {
			case "running":
				return StatusRunning
			case "paused":
				return StatusRunning | StatusPaused
			default:
				return 0
			}
		}}
	}

	return m
}

// Read answers a memory read: the entry's name and its current value.
// Unlisted addresses answer ("", 0) unless previously written, in which case
// the first stored value field is returned.
func (m *MemoryMap) Read(addr uint16) (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[addr]; ok {
		if e.Provider != nil {
			return e.Name, e.Provider()
		}

		return e.Name, e.Value
	}

	if w, ok := m.writes[addr]; ok {
		return "", w[0]
	}

	return "", 0
}

// Write absorbs a memory write. The two 35-bit fields are stored opaquely;
// addresses with documented fixed values take the first field as their new
// value.
func (m *MemoryMap) Write(addr uint16, v1, v2 uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[addr]; ok && e.Provider == nil {
		e.Value = v1
		m.entries[addr] = e
	}
	m.writes[addr] = [2]uint64{v1, v2}
}
