package ruida

import (
	"fmt"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/logger"
)

// Point is one vertex of a plot-cut, in µm, with the power the segment
// leading into it was executed at (0 for travel).
type Point struct {
	X, Y  int32
	Power float64
}

// PlotCut is an open polyline of consecutive motion points at a constant
// power level. It is accumulated by the Interpreter and flushed to the
// driver as one unit.
type PlotCut struct {
	Power  float64
	Points []Point
}

// Segments returns the number of segments in the polyline.
func (pc *PlotCut) Segments() int {
	if len(pc.Points) < 2 {
		return 0
	}

	return len(pc.Points) - 1
}

// Position is the cursor position on all four axes, in µm.
type Position struct {
	X, Y, Z, U int32
}

// Driver consumes the output of an Interpreter: committed plot-cuts and
// process-control events. It also reports live machine status back, which
// the memory map consults to answer position queries.
type Driver interface {
	// Plot delivers one committed plot-cut.
	Plot(cut *PlotCut)
	// Status returns the live position, a coarse state ("idle", "running",
	// "paused"), and a free-form detail string.
	Status() (Position, string, string)
}

// Interpreter decodes plain (unswizzled) commands one at a time, updating
// cursor state, accumulating plot-cuts, and describing each command for
// diagnostics.
//
// An Interpreter is not goroutine-safe; the emulator confines each instance
// to a single job executor.
type Interpreter struct {
	driver Driver
	log    logger.Logger

	pos   Position
	speed float64 // mm/s

	// Power levels in percent, indexed by channel-1.
	minPower [2]float64
	maxPower [2]float64
	imdPower [2]float64
	endPower [2]float64
	freq     [2]uint32

	plot *PlotCut
}

// NewInterpreter creates an Interpreter delivering plot-cuts to driver.
// driver may be nil, in which case committed cuts are discarded.
func NewInterpreter(driver Driver, log logger.Logger) *Interpreter {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Interpreter{driver: driver, log: log}
}

// Position returns the current cursor position.
func (it *Interpreter) Position() Position { return it.pos }

// Speed returns the current cut speed in mm/s.
func (it *Interpreter) Speed() float64 { return it.speed }

// MaxPower returns the current maximum power of a laser channel in percent.
func (it *Interpreter) MaxPower(laser int) float64 {
	if laser < 1 || laser > 2 {
		return 0
	}

	return it.maxPower[laser-1]
}

// Frequency returns the current frequency of a laser channel in Hz.
func (it *Interpreter) Frequency(laser int) uint32 {
	if laser < 1 || laser > 2 {
		return 0
	}

	return it.freq[laser-1]
}

// OpenPlot returns the in-progress plot-cut, or nil. The returned value
// aliases interpreter state and must not be modified.
func (it *Interpreter) OpenPlot() *PlotCut { return it.plot }

/// cutPower is the power applied to cut segments: the maximum power of
// channel 1, the channel every observed controller drives the primary tube
// with.
func (it *Interpreter) cutPower() float64 { return it.maxPower[0] }

// Execute decodes and applies a single plain command, returning a
// human-readable description of it.
//
// On an unknown opcode or short operands it returns a *codec.DecodeError
// and leaves cursor state unchanged; the caller decides whether that aborts
// the stream or is logged and skipped.
func (it *Interpreter) Execute(cmd []byte) (string, error) {
	if len(cmd) == 0 {
		return "", codec.NewCommandError("command", 0, codec.ErrShortCommand)
	}

	handler, ok := execTable[cmd[0]]
	if !ok {
		return "", codec.NewCommandError("command", cmd[0], codec.ErrUnknownOpcode)
	}

	return handler(it, cmd)
}

// Flush commits any open plot-cut, as an end-of-stream or job-abort does.
func (it *Interpreter) Flush() {
	it.commitPlot()
}

// --- Plot-cut accumulation ---

// moveTo records a travel to (x, y). A travel segment has power zero, so an
// open powered plot-cut is committed first; the new position seeds the next
// one.
func (it *Interpreter) moveTo(x, y int32) {
	if it.plot != nil && it.plot.Power > 0 && it.plot.Segments() > 0 {
		it.commitPlot()
	}

	it.pos.X, it.pos.Y = x, y
	it.plot = &PlotCut{Points: []Point{{X: x, Y: y}}}
}

// cutTo records a cut to (x, y) at the current power.
func (it *Interpreter) cutTo(x, y int32) {
	power := it.cutPower()

	switch {
	case it.plot == nil:
		it.plot = &PlotCut{Power: power, Points: []Point{{X: it.pos.X, Y: it.pos.Y}}}

	case it.plot.Power == 0 && it.plot.Segments() == 0:
		// A travel seed becomes the start of this cut.
		it.plot.Power = power

	case it.plot.Power != power:
		it.commitPlot()
		it.plot = &PlotCut{Power: power, Points: []Point{{X: it.pos.X, Y: it.pos.Y}}}
	}

	it.pos.X, it.pos.Y = x, y
	it.plot.Points = append(it.plot.Points, Point{X: x, Y: y, Power: power})
}

// settingsChanged commits the open plot-cut; a new one starts at the current
// position when the next motion arrives.
func (it *Interpreter) settingsChanged() {
	it.commitPlot()
}

// commitPlot delivers the open plot-cut to the driver and closes it.
// Travel-only accumulations (power zero or fewer than two points) are
// dropped.
func (it *Interpreter) commitPlot() {
	plot := it.plot
	it.plot = nil

	if plot == nil || plot.Power == 0 || plot.Segments() == 0 {
		return
	}

	it.log.Debug("commit plot cut",
		"segments", plot.Segments(),
		"power", plot.Power)

	if it.driver != nil {
		it.driver.Plot(plot)
	}
}

// --- Handler table ---

// execFunc applies one decoded command to the interpreter.
type execFunc func(it *Interpreter, cmd []byte) (string, error)

// execTable maps opcode bytes to their handlers. Selector-bearing opcodes
// dispatch through nested tables.
var execTable map[byte]execFunc

func init() {
	execTable = map[byte]execFunc{
		OpMoveAbs:  execMoveAbs,
		OpMoveRel:  execMoveRel,
		OpMoveRelX: execMoveRelAxis,
		OpMoveRelY: execMoveRelAxis,
		OpCutAbs:   execCutAbs,
		OpCutRel:   execCutRel,
		OpCutRelX:  execCutRelAxis,
		OpCutRelY:  execCutRelAxis,

		OpPower:     execPower,
		OpSpeed:     execSpeed,
		OpProcess:   execProcess,
		OpRapid:     execRapid,
		OpMemory:    execMemory,
		OpBlock:     execBlock,
		OpElement:   execElement,
		OpArray:     execArray,
		OpInterface: execInterface,

		OpEOF:    execStreamEnd,
		OpFinish: execStreamEnd,

		TokACK:       execToken,
		TokNAK:       execToken,
		TokENQ:       execToken,
		TokKeepAlive: execToken,
	}
}

func execMoveAbs(it *Interpreter, cmd []byte) (string, error) {
	x, y, err := decodeAbsXY(cmd)
	if err != nil {
		return "", err
	}
	it.moveTo(x, y)

	return fmt.Sprintf("move abs (%d, %d)", x, y), nil
}

func execCutAbs(it *Interpreter, cmd []byte) (string, error) {
	x, y, err := decodeAbsXY(cmd)
	if err != nil {
		return "", err
	}
	it.cutTo(x, y)

	return fmt.Sprintf("cut abs (%d, %d)", x, y), nil
}

func execMoveRel(it *Interpreter, cmd []byte) (string, error) {
	dx, dy, err := decodeRelXY(cmd)
	if err != nil {
		return "", err
	}
	it.moveTo(it.pos.X+int32(dx), it.pos.Y+int32(dy))

	return fmt.Sprintf("move rel (%d, %d)", dx, dy), nil
}

func execCutRel(it *Interpreter, cmd []byte) (string, error) {
	dx, dy, err := decodeRelXY(cmd)
	if err != nil {
		return "", err
	}
	it.cutTo(it.pos.X+int32(dx), it.pos.Y+int32(dy))

	return fmt.Sprintf("cut rel (%d, %d)", dx, dy), nil
}

func execMoveRelAxis(it *Interpreter, cmd []byte) (string, error) {
	d, err := decodeRelAxis(cmd)
	if err != nil {
		return "", err
	}

	if cmd[0] == OpMoveRelX {
		it.moveTo(it.pos.X+int32(d), it.pos.Y)

		return fmt.Sprintf("move rel x %d", d), nil
	}
	it.moveTo(it.pos.X, it.pos.Y+int32(d))

	return fmt.Sprintf("move rel y %d", d), nil
}

func execCutRelAxis(it *Interpreter, cmd []byte) (string, error) {
	d, err := decodeRelAxis(cmd)
	if err != nil {
		return "", err
	}

	if cmd[0] == OpCutRelX {
		it.cutTo(it.pos.X+int32(d), it.pos.Y)

		return fmt.Sprintf("cut rel x %d", d), nil
	}
	it.cutTo(it.pos.X, it.pos.Y+int32(d))

	return fmt.Sprintf("cut rel y %d", d), nil
}

// powerTargets maps OpPower selectors to the interpreter slot they set.
var powerTargets = map[byte]struct {
	laser int
	kind  PowerKind
}{
	PowerMin1: {1, MinPower}, PowerMax1: {1, MaxPower},
	PowerImd1: {1, ImmediatePower}, PowerEnd1: {1, EndPower},
	PowerMin2: {2, MinPower}, PowerMax2: {2, MaxPower},
	PowerImd2: {2, ImmediatePower}, PowerEnd2: {2, EndPower},
}

func execPower(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}

	if sel == PowerFrequency {
		if len(cmd) < 8 {
			return "", codec.NewCommandError("frequency", OpPower, codec.ErrShortCommand)
		}
		laser := int(cmd[2]) + 1
		raw, err := codec.DecodeU35(cmd[3:8])
		if err != nil {
			return "", err
		}
		hz := codec.DecodeFrequency(raw)
		if laser >= 1 && laser <= 2 {
			it.freq[laser-1] = hz
		}
		it.settingsChanged()

		return fmt.Sprintf("set frequency %d: %d Hz", laser, hz), nil
	}

	target, ok := powerTargets[sel]
	if !ok {
		return "", codec.NewCommandError("power selector", OpPower, codec.ErrUnknownOpcode)
	}
	raw, err := codec.DecodeU14(cmd[2:])
	if err != nil {
		return "", err
	}
	percent := codec.DecodePower(raw)

	idx := target.laser - 1
	var kindName string
	switch target.kind {
	case MinPower:
		it.minPower[idx] = percent
		kindName = "min"
	case MaxPower:
		it.maxPower[idx] = percent
		kindName = "max"
	case ImmediatePower:
		it.imdPower[idx] = percent
		kindName = "immediate"
	case EndPower:
		it.endPower[idx] = percent
		kindName = "end"
	}
	it.settingsChanged()

	return fmt.Sprintf("set %s power %d: %.1f%%", kindName, target.laser, percent), nil
}

func execSpeed(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}

	switch sel {
	case SpeedGlobal:
		raw, err := codec.DecodeU35(cmd[2:])
		if err != nil {
			return "", err
		}
		it.speed = codec.DecodeSpeed(raw)
		it.settingsChanged()

		return fmt.Sprintf("set speed %.3f mm/s", it.speed), nil

	case SpeedLayer:
		if len(cmd) < 8 {
			return "", codec.NewCommandError("layer speed", OpSpeed, codec.ErrShortCommand)
		}
		raw, err := codec.DecodeU35(cmd[3:8])
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("set layer %d speed %.3f mm/s", cmd[2], codec.DecodeSpeed(raw)), nil

	default:
		return "", codec.NewCommandError("speed selector", OpSpeed, codec.ErrUnknownOpcode)
	}
}

var processNames = map[byte]string{
	ProcessStart:  "start process",
	ProcessStop:   "stop process",
	ProcessPause:  "pause process",
	ProcessResume: "resume process",
	ProcessHomeXY: "home xy",
	ProcessHomeZ:  "home z",
	ProcessHomeU:  "home u",
}

func execProcess(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}
	name, ok := processNames[sel]
	if !ok {
		return "", codec.NewCommandError("process selector", OpProcess, codec.ErrUnknownOpcode)
	}

	switch sel {
	case ProcessStop:
		// An aborted job never flushes its open cut.
		it.plot = nil
	case ProcessHomeXY:
		it.commitPlot()
		it.pos.X, it.pos.Y = 0, 0
	case ProcessHomeZ:
		it.pos.Z = 0
	case ProcessHomeU:
		it.pos.U = 0
	}

	return name, nil
}

func execRapid(it *Interpreter, cmd []byte) (string, error) {
	if len(cmd) < 3 {
		return "", codec.NewCommandError("rapid", OpRapid, codec.ErrShortCommand)
	}
	axis := cmd[2]

	if axis == AxisXY {
		x, y, err := decodePair35(cmd[3:], OpRapid, "rapid xy")
		if err != nil {
			return "", err
		}
		it.commitPlot()
		it.pos.X, it.pos.Y = x, y

		return fmt.Sprintf("rapid xy (%d, %d)", x, y), nil
	}

	v, err := codec.DecodeS35(cmd[3:])
	if err != nil {
		return "", err
	}

	switch axis {
	case AxisX:
		it.commitPlot()
		it.pos.X = v

		return fmt.Sprintf("rapid x %d", v), nil
	case AxisY:
		it.commitPlot()
		it.pos.Y = v

		return fmt.Sprintf("rapid y %d", v), nil
	case AxisZ:
		it.pos.Z = v

		return fmt.Sprintf("rapid z %d", v), nil
	case AxisU:
		it.pos.U = v

		return fmt.Sprintf("rapid u %d", v), nil
	default:
		return "", codec.NewCommandError("rapid axis", OpRapid, codec.ErrUnknownOpcode)
	}
}

func execMemory(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}

	switch sel {
	case MemoryGet:
		addr, err := ParseMemoryGet(cmd)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("get setting 0x%04X", addr), nil

	case MemorySet:
		addr, v1, v2, err := ParseMemorySet(cmd)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("set setting 0x%04X = (0x%X, 0x%X)", addr, v1, v2), nil

	default:
		return "", codec.NewCommandError("memory selector", OpMemory, codec.ErrUnknownOpcode)
	}
}

func execBlock(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}

	switch sel {
	case BlockEnd:
		it.commitPlot()

		return "block end", nil

	case BlockFilename:
		name := cmd[2:]
		if n := len(name); n > 0 && name[n-1] == 0 {
			name = name[:n-1]
		}

		return fmt.Sprintf("filename %q", string(name)), nil

	case BlockTopLeft:
		x, y, err := decodePair35(cmd[2:], OpBlock, "top left")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("top left (%d, %d)", x, y), nil

	case BlockBottomRight:
		x, y, err := decodePair35(cmd[2:], OpBlock, "bottom right")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("bottom right (%d, %d)", x, y), nil

	default:
		return "", codec.NewCommandError("block selector", OpBlock, codec.ErrUnknownOpcode)
	}
}

func execElement(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}
	v, err := codec.DecodeU14(cmd[2:])
	if err != nil {
		return "", err
	}

	switch sel {
	case ElementIndex:
		return fmt.Sprintf("element index %d", v), nil
	case ElementCount:
		return fmt.Sprintf("element count %d", v), nil
	default:
		return "", codec.NewCommandError("element selector", OpElement, codec.ErrUnknownOpcode)
	}
}

func execArray(it *Interpreter, cmd []byte) (string, error) {
	sel, err := selector(cmd)
	if err != nil {
		return "", err
	}
	if sel != ArrayRepeat {
		return "", codec.NewCommandError("array selector", OpArray, codec.ErrUnknownOpcode)
	}

	cols, err := codec.DecodeU14(cmd[2:])
	if err != nil {
		return "", err
	}
	rows, err := codec.DecodeU14(cmd[4:])
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("array repeat %dx%d", cols, rows), nil
}

var keyNames = map[byte]string{
	KeyXPlus: "x+", KeyXMinus: "x-",
	KeyYPlus: "y+", KeyYMinus: "y-",
	KeyZPlus: "z+", KeyZMinus: "z-",
	KeyUPlus: "u+", KeyUMinus: "u-",
	KeyPause: "pause", KeyStop: "stop",
	KeyOrigin: "origin", KeyEsc: "esc",
}

func execInterface(it *Interpreter, cmd []byte) (string, error) {
	if len(cmd) < 3 {
		return "", codec.NewCommandError("interface", OpInterface, codec.ErrShortCommand)
	}

	name, ok := keyNames[cmd[2]]
	if !ok {
		name = fmt.Sprintf("key 0x%02X", cmd[2])
	}

	switch cmd[1] {
	case KeyPress:
		if cmd[2] == KeyStop || cmd[2] == KeyEsc {
			// Stop and escape drop any motion in progress.
			it.plot = nil
		}

		return "key press " + name, nil
	case KeyRelease:
		return "key release " + name, nil
	default:
		return "", codec.NewCommandError("interface selector", OpInterface, codec.ErrUnknownOpcode)
	}
}

func execStreamEnd(it *Interpreter, cmd []byte) (string, error) {
	it.commitPlot()

	if cmd[0] == OpEOF {
		return "eof", nil
	}

	return "finish", nil
}

var tokenNames = map[byte]string{
	TokACK: "ack", TokNAK: "nak", TokENQ: "enq", TokKeepAlive: "keep-alive",
}

func execToken(it *Interpreter, cmd []byte) (string, error) {
	return tokenNames[cmd[0]], nil
}

// --- Decode helpers ---

func selector(cmd []byte) (byte, error) {
	if len(cmd) < 2 {
		return 0, codec.NewCommandError("selector", cmd[0], codec.ErrShortCommand)
	}

	return cmd[1], nil
}

func decodeAbsXY(cmd []byte) (int32, int32, error) {
	return decodePair35(cmd[1:], cmd[0], "abs xy")
}

func decodePair35(b []byte, opcode byte, field string) (int32, int32, error) {
	if len(b) < 10 {
		return 0, 0, codec.NewCommandError(field, opcode, codec.ErrShortCommand)
	}
	x, err := codec.DecodeS35(b[:5])
	if err != nil {
		return 0, 0, err
	}
	y, err := codec.DecodeS35(b[5:10])
	if err != nil {
		return 0, 0, err
	}

	return x, y, nil
}

func decodeRelXY(cmd []byte) (int16, int16, error) {
	if len(cmd) < 5 {
		return 0, 0, codec.NewCommandError("rel xy", cmd[0], codec.ErrShortCommand)
	}
	dx, err := codec.DecodeS14(cmd[1:3])
	if err != nil {
		return 0, 0, err
	}
	dy, err := codec.DecodeS14(cmd[3:5])
	if err != nil {
		return 0, 0, err
	}

	return dx, dy, nil
}

func decodeRelAxis(cmd []byte) (int16, error) {
	if len(cmd) < 3 {
		return 0, codec.NewCommandError("rel axis", cmd[0], codec.ErrShortCommand)
	}

	return codec.DecodeS14(cmd[1:3])
}

// BuildMemoryGet builds a memory read command for addr.
func BuildMemoryGet(addr uint16) []byte {
	return appendAddr([]byte{OpMemory, MemoryGet}, addr)
}

// ParseMemoryGet extracts the address of a memory read command.
func ParseMemoryGet(cmd []byte) (uint16, error) {
	if len(cmd) < 4 || cmd[0] != OpMemory || cmd[1] != MemoryGet {
		return 0, codec.NewCommandError("memory get", OpMemory, codec.ErrShortCommand)
	}

	return decodeAddr(cmd[2:4]), nil
}

// ParseMemorySet extracts the address and the two opaque 35-bit value fields
// of a memory write command.
func ParseMemorySet(cmd []byte) (addr uint16, v1, v2 uint64, err error) {
	if len(cmd) < 14 || cmd[0] != OpMemory || cmd[1] != MemorySet {
		return 0, 0, 0, codec.NewCommandError("memory set", OpMemory, codec.ErrShortCommand)
	}
	addr = decodeAddr(cmd[2:4])
	if v1, err = codec.DecodeU35(cmd[4:9]); err != nil {
		return 0, 0, 0, err
	}
	if v2, err = codec.DecodeU35(cmd[9:14]); err != nil {
		return 0, 0, 0, err
	}

	return addr, v1, v2, nil
}

// ParseMemoryReply extracts the address and value of a 9-byte memory read
// reply frame.
func ParseMemoryReply(frame []byte) (addr uint16, value uint64, err error) {
	if len(frame) < ReplyFrameSize || frame[0] != OpMemory || frame[1] != MemorySet {
		return 0, 0, codec.NewCommandError("memory reply", OpMemory, codec.ErrShortCommand)
	}
	addr = decodeAddr(frame[2:4])
	if value, err = codec.DecodeU35(frame[4:9]); err != nil {
		return 0, 0, err
	}

	return addr, value, nil
}

// BuildMemoryReply builds the fixed 9-byte reply frame for a memory read.
func BuildMemoryReply(addr uint16, value uint64) []byte {
	frame := appendAddr([]byte{OpMemory, MemorySet}, addr)

	return codec.EncodeU35(frame, value)
}
