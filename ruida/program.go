package ruida

import (
	"errors"
	"fmt"
	"io"

	"github.com/openlaser/go-ruida/codec"
)

// Builder-side errors.
var (
	ErrRelTooLarge    = errors.New("ruida: relative offset exceeds 14-bit range")
	ErrBadLaser       = errors.New("ruida: laser channel out of range")
	ErrBadFilename    = errors.New("ruida: filename must be 7-bit clean")
	ErrUnknownAxis    = errors.New("ruida: unknown axis")
	ErrBadAddress     = errors.New("ruida: memory address bytes must be 7-bit clean")
	ErrNoOutput       = errors.New("ruida: program has no output sink")
	ErrUnknownPowKind = errors.New("ruida: unknown power kind")
)

// PowerKind selects which of a channel's power levels a setting applies to.
type PowerKind int

const (
	// MinPower is the level applied at the slow ends of a cut.
	MinPower PowerKind = iota
	// MaxPower is the level applied at full cutting speed.
	MaxPower
	// ImmediatePower takes effect without ramping.
	ImmediatePower
	// EndPower is applied when a cut terminates.
	EndPower
)

// powerSelectors maps (channel, kind) to the OpPower selector byte.
// Channels 1 and 2 each carry min/max/immediate/end levels.
var powerSelectors = map[int]map[PowerKind]byte{
	1: {MinPower: PowerMin1, MaxPower: PowerMax1, ImmediatePower: PowerImd1, EndPower: PowerEnd1},
	2: {MinPower: PowerMin2, MaxPower: PowerMax2, ImmediatePower: PowerImd2, EndPower: PowerEnd2},
}

// Program builds an ordered sequence of commands.
//
// In buffered mode (NewProgram) each operation appends its encoded command to
// the buffer for later chunked transmission. In realtime mode (NewRealtime)
// each command is swizzled and written to the sink immediately instead, which
// is how single interactive commands (jog keys, pause) are issued.
//
// The builder tracks the position implied by emitted motion commands so
// JumpTo and MarkTo can pick the most compact encoding.
type Program struct {
	cmds [][]byte
	size int

	sink io.Writer
	enc  *codec.Codec

	x, y     int32
	posKnown bool
}

// NewProgram creates an empty buffered Program.
func NewProgram() *Program {
	return &Program{}
}

// NewRealtime creates a Program that swizzles and writes each command to w
// immediately instead of buffering it.
func NewRealtime(w io.Writer, c *codec.Codec) *Program {
	return &Program{sink: w, enc: c}
}

// ParseProgram builds a buffered Program from a plain (unswizzled) command
// stream, as loaded from a captured job file.
func ParseProgram(data []byte) (*Program, error) {
	cmds, err := codec.SplitCommands(data)
	if err != nil {
		return nil, err
	}

	return &Program{cmds: cmds, size: len(data)}, nil
}

// Commands returns the buffered commands in order. The returned slices alias
// the program's buffer and must not be modified.
func (p *Program) Commands() [][]byte { return p.cmds }

// Len returns the total byte size of the buffered commands.
func (p *Program) Len() int { return p.size }

// Bytes returns the concatenated plain (unswizzled) command stream.
func (p *Program) Bytes() []byte {
	out := make([]byte, 0, p.size)
	for _, c := range p.cmds {
		out = append(out, c...)
	}

	return out
}

// Checksum returns the whole-buffer checksum (sum of all bytes mod 65536)
// used for chunked-transfer integrity checks.
func (p *Program) Checksum() uint16 {
	var sum uint32
	for _, c := range p.cmds {
		for _, b := range c {
			sum += uint32(b)
		}
	}

	return uint16(sum & 0xFFFF)
}

// emit appends cmd to the buffer, or swizzles and writes it in realtime mode.
func (p *Program) emit(cmd []byte) error {
	if p.sink != nil {
		_, err := p.sink.Write(p.enc.Swizzle(cmd))

		return err
	}

	p.cmds = append(p.cmds, cmd)
	p.size += len(cmd)

	return nil
}

func (p *Program) setPos(x, y int32) {
	p.x, p.y = x, y
	p.posKnown = true
}

// --- Motion ---

// MoveAbs emits an absolute travel move to (x, y) µm.
func (p *Program) MoveAbs(x, y int32) error {
	cmd := []byte{OpMoveAbs}
	cmd = codec.EncodeS35(cmd, x)
	cmd = codec.EncodeS35(cmd, y)
	p.setPos(x, y)

	return p.emit(cmd)
}

// MoveRel emits a relative travel move by (dx, dy) µm.
// Both offsets must fit the signed 14-bit range.
func (p *Program) MoveRel(dx, dy int16) error {
	if !fitsRel(dx) || !fitsRel(dy) {
		return fmt.Errorf("%w: (%d, %d)", ErrRelTooLarge, dx, dy)
	}

	cmd := []byte{OpMoveRel}
	cmd = codec.EncodeS14(cmd, dx)
	cmd = codec.EncodeS14(cmd, dy)
	if p.posKnown {
		p.setPos(p.x+int32(dx), p.y+int32(dy))
	}

	return p.emit(cmd)
}

// MoveRelX emits a relative travel move along X only.
func (p *Program) MoveRelX(dx int16) error {
	return p.relAxis(OpMoveRelX, dx)
}

// MoveRelY emits a relative travel move along Y only.
func (p *Program) MoveRelY(dy int16) error {
	return p.relAxis(OpMoveRelY, dy)
}

// CutAbs emits an absolute cut to (x, y) µm at the current power.
func (p *Program) CutAbs(x, y int32) error {
	cmd := []byte{OpCutAbs}
	cmd = codec.EncodeS35(cmd, x)
	cmd = codec.EncodeS35(cmd, y)
	p.setPos(x, y)

	return p.emit(cmd)
}

// CutRel emits a relative cut by (dx, dy) µm.
func (p *Program) CutRel(dx, dy int16) error {
	if !fitsRel(dx) || !fitsRel(dy) {
		return fmt.Errorf("%w: (%d, %d)", ErrRelTooLarge, dx, dy)
	}

	cmd := []byte{OpCutRel}
	cmd = codec.EncodeS14(cmd, dx)
	cmd = codec.EncodeS14(cmd, dy)
	if p.posKnown {
		p.setPos(p.x+int32(dx), p.y+int32(dy))
	}

	return p.emit(cmd)
}

// CutRelX emits a relative cut along X only.
func (p *Program) CutRelX(dx int16) error {
	return p.relAxis(OpCutRelX, dx)
}

// CutRelY emits a relative cut along Y only.
func (p *Program) CutRelY(dy int16) error {
	return p.relAxis(OpCutRelY, dy)
}

func (p *Program) relAxis(op byte, d int16) error {
	if !fitsRel(d) {
		return fmt.Errorf("%w: %d", ErrRelTooLarge, d)
	}

	cmd := codec.EncodeS14([]byte{op}, d)
	if p.posKnown {
		switch op {
		case OpMoveRelX, OpCutRelX:
			p.setPos(p.x+int32(d), p.y)
		case OpMoveRelY, OpCutRelY:
			p.setPos(p.x, p.y+int32(d))
		}
	}

	return p.emit(cmd)
}

func fitsRel(d int16) bool {
	return d >= -codec.MaxRel14 && d <= codec.MaxRel14
}

// JumpTo emits a travel move to (x, y) using the most compact encoding:
// a pure-X or pure-Y relative form when only one axis changes, relative-XY
// when both deltas fit the 14-bit range, and absolute-XY otherwise (or when
// the current position is unknown).
func (p *Program) JumpTo(x, y int32) error {
	return p.compactMotion(x, y, false)
}

// MarkTo emits a cut to (x, y) using the same compact-encoding rules as
// JumpTo.
func (p *Program) MarkTo(x, y int32) error {
	return p.compactMotion(x, y, true)
}

func (p *Program) compactMotion(x, y int32, cut bool) error {
	if !p.posKnown {
		if cut {
			return p.CutAbs(x, y)
		}

		return p.MoveAbs(x, y)
	}

	dx := int64(x) - int64(p.x)
	dy := int64(y) - int64(p.y)
	fitsX := dx >= -codec.MaxRel14 && dx <= codec.MaxRel14
	fitsY := dy >= -codec.MaxRel14 && dy <= codec.MaxRel14

	switch {
	case dy == 0 && fitsX:
		if cut {
			return p.CutRelX(int16(dx))
		}

		return p.MoveRelX(int16(dx))

	case dx == 0 && fitsY:
		if cut {
			return p.CutRelY(int16(dy))
		}

		return p.MoveRelY(int16(dy))

	case fitsX && fitsY:
		if cut {
			return p.CutRel(int16(dx), int16(dy))
		}

		return p.MoveRel(int16(dx), int16(dy))

	default:
		if cut {
			return p.CutAbs(x, y)
		}

		return p.MoveAbs(x, y)
	}
}

// --- Settings ---

// SetPower emits a power level setting for the given laser channel (1 or 2).
// percent is clamped to [0, 100].
func (p *Program) SetPower(laser int, kind PowerKind, percent float64) error {
	sels, ok := powerSelectors[laser]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadLaser, laser)
	}
	sel, ok := sels[kind]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPowKind, kind)
	}

	cmd := codec.EncodeU14([]byte{OpPower, sel}, codec.EncodePower(percent))

	return p.emit(cmd)
}

// SetMinPower emits the minimum power setting for a laser channel.
func (p *Program) SetMinPower(laser int, percent float64) error {
	return p.SetPower(laser, MinPower, percent)
}

// SetMaxPower emits the maximum power setting for a laser channel.
func (p *Program) SetMaxPower(laser int, percent float64) error {
	return p.SetPower(laser, MaxPower, percent)
}

// SetSpeed emits the global cut speed in mm/s.
func (p *Program) SetSpeed(mmPerSec float64) error {
	cmd := codec.EncodeU35([]byte{OpSpeed, SpeedGlobal}, codec.EncodeSpeed(mmPerSec))

	return p.emit(cmd)
}

// SetLayerSpeed emits a per-layer speed in mm/s.
func (p *Program) SetLayerSpeed(layer byte, mmPerSec float64) error {
	cmd := []byte{OpSpeed, SpeedLayer, layer & 0x7F}
	cmd = codec.EncodeU35(cmd, codec.EncodeSpeed(mmPerSec))

	return p.emit(cmd)
}

// SetFrequency emits the frequency setting in Hz for a laser channel.
func (p *Program) SetFrequency(laser int, hz uint32) error {
	if laser < 1 || laser > 2 {
		return fmt.Errorf("%w: %d", ErrBadLaser, laser)
	}

	cmd := []byte{OpPower, PowerFrequency, byte(laser - 1)}
	cmd = codec.EncodeU35(cmd, codec.EncodeFrequency(hz))

	return p.emit(cmd)
}

// --- Memory ---

// GetSetting emits a memory read of the given address. The controller
// answers with a fixed 9-byte reply frame.
func (p *Program) GetSetting(addr uint16) error {
	if !validAddr(addr) {
		return fmt.Errorf("get setting 0x%04X: %w", addr, ErrBadAddress)
	}
	cmd := appendAddr([]byte{OpMemory, MemoryGet}, addr)

	return p.emit(cmd)
}

// SetSetting emits a memory write of the given address. The two 35-bit
// value fields are carried verbatim; addresses with undocumented layouts
// round-trip unchanged.
func (p *Program) SetSetting(addr uint16, v1, v2 uint64) error {
	if !validAddr(addr) {
		return fmt.Errorf("set setting 0x%04X: %w", addr, ErrBadAddress)
	}
	cmd := appendAddr([]byte{OpMemory, MemorySet}, addr)
	cmd = codec.EncodeU35(cmd, v1)
	cmd = codec.EncodeU35(cmd, v2)

	return p.emit(cmd)
}

// --- Process control ---

// StartProcess emits a process start command.
func (p *Program) StartProcess() error { return p.emit([]byte{OpProcess, ProcessStart}) }

// StopProcess emits a process stop command.
func (p *Program) StopProcess() error { return p.emit([]byte{OpProcess, ProcessStop}) }

// PauseProcess emits a process pause command.
func (p *Program) PauseProcess() error { return p.emit([]byte{OpProcess, ProcessPause}) }

// ResumeProcess emits a process resume command.
func (p *Program) ResumeProcess() error { return p.emit([]byte{OpProcess, ProcessResume}) }

// HomeXY emits a home command for the X and Y axes.
func (p *Program) HomeXY() error { return p.emit([]byte{OpProcess, ProcessHomeXY}) }

// HomeZ emits a home command for the Z axis.
func (p *Program) HomeZ() error { return p.emit([]byte{OpProcess, ProcessHomeZ}) }

// HomeU emits a home command for the U axis.
func (p *Program) HomeU() error { return p.emit([]byte{OpProcess, ProcessHomeU}) }

// Rapid emits a rapid jog of a single axis to the given absolute µm position.
func (p *Program) Rapid(axis byte, pos int32) error {
	switch axis {
	case AxisX, AxisY, AxisZ, AxisU:
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownAxis, axis)
	}

	cmd := codec.EncodeS35([]byte{OpRapid, 0x00, axis}, pos)
	if p.posKnown {
		switch axis {
		case AxisX:
			p.setPos(pos, p.y)
		case AxisY:
			p.setPos(p.x, pos)
		}
	}

	return p.emit(cmd)
}

// RapidXY emits a combined rapid jog of the X and Y axes.
func (p *Program) RapidXY(x, y int32) error {
	cmd := codec.EncodeS35([]byte{OpRapid, 0x00, AxisXY}, x)
	cmd = codec.EncodeS35(cmd, y)
	p.setPos(x, y)

	return p.emit(cmd)
}

// --- Interface keys ---

// PressKey emits a realtime panel key press.
func (p *Program) PressKey(key byte) error {
	return p.emit([]byte{OpInterface, KeyPress, key & 0x7F})
}

// ReleaseKey emits a realtime panel key release.
func (p *Program) ReleaseKey(key byte) error {
	return p.emit([]byte{OpInterface, KeyRelease, key & 0x7F})
}

// --- Bookkeeping ---

// TopLeft emits the document's top-left bound.
func (p *Program) TopLeft(x, y int32) error {
	cmd := codec.EncodeS35([]byte{OpBlock, BlockTopLeft}, x)
	cmd = codec.EncodeS35(cmd, y)

	return p.emit(cmd)
}

// BottomRight emits the document's bottom-right bound.
func (p *Program) BottomRight(x, y int32) error {
	cmd := codec.EncodeS35([]byte{OpBlock, BlockBottomRight}, x)
	cmd = codec.EncodeS35(cmd, y)

	return p.emit(cmd)
}

// Filename emits the job's stored filename. The name must be 7-bit clean;
// it is sent NUL-terminated.
func (p *Program) Filename(name string) error {
	cmd := []byte{OpBlock, BlockFilename}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 || name[i] > 0x7F {
			return fmt.Errorf("%w: %q", ErrBadFilename, name)
		}
		cmd = append(cmd, name[i])
	}
	cmd = append(cmd, 0x00)

	return p.emit(cmd)
}

// EndBlock emits a block end marker, which also commits any open plot-cut on
// the interpreting side.
func (p *Program) EndBlock() error { return p.emit([]byte{OpBlock, BlockEnd}) }

// SetElementIndex emits the current element index.
func (p *Program) SetElementIndex(i uint16) error {
	return p.emit(codec.EncodeU14([]byte{OpElement, ElementIndex}, i))
}

// SetElementCount emits the total element count.
func (p *Program) SetElementCount(n uint16) error {
	return p.emit(codec.EncodeU14([]byte{OpElement, ElementCount}, n))
}

// SetArrayRepeat emits the array repeat counts.
func (p *Program) SetArrayRepeat(cols, rows uint16) error {
	cmd := codec.EncodeU14([]byte{OpArray, ArrayRepeat}, cols)
	cmd = codec.EncodeU14(cmd, rows)

	return p.emit(cmd)
}

// EOF emits the end-of-file marker.
func (p *Program) EOF() error { return p.emit([]byte{OpEOF}) }

// Finish emits the finish marker.
func (p *Program) Finish() error { return p.emit([]byte{OpFinish}) }
