package ruida

// Command opcodes. A command's first byte has the high bit set; operand
// bytes are 7-bit clean. Some opcodes carry a second selector byte that
// refines the operation.
const (
	OpMoveAbs  byte = 0x88 // x:5 y:5
	OpMoveRel  byte = 0x89 // dx:2 dy:2
	OpMoveRelX byte = 0x8A // dx:2
	OpMoveRelY byte = 0x8B // dy:2

	OpCutAbs  byte = 0xA8 // x:5 y:5
	OpCutRel  byte = 0xA9 // dx:2 dy:2
	OpCutRelX byte = 0xAA // dx:2
	OpCutRelY byte = 0xAB // dy:2

	// OpInterface carries single-key panel input: selector (press/release)
	// followed by a key code.
	OpInterface byte = 0xA5

	// OpPower sets a power level: selector chooses channel and kind,
	// operand is a 14-bit power value.
	OpPower byte = 0xC6

	// OpSpeed sets speeds: selector 0x02 is the global cut speed (35-bit,
	// mm/s x1000), selector 0x04 a per-layer speed.
	OpSpeed byte = 0xC9

	// Single-byte protocol tokens (sent and received under swizzle).
	TokACK       byte = 0xCC
	TokNAK       byte = 0xCD
	TokENQ       byte = 0xCE
	TokKeepAlive byte = 0xCF

	// OpEOF terminates a job stream.
	OpEOF byte = 0xD7

	// OpProcess controls job execution and homing via selector.
	OpProcess byte = 0xD8

	// OpRapid performs an axis jog: 0xD9 0x00 <axis> <coord...>.
	OpRapid byte = 0xD9

	// OpMemory reads and writes the 14-bit memory address space:
	// get is 0xDA 0x00 <hi> <lo>; set is 0xDA 0x01 <hi> <lo> <v:5> <v:5>.
	// A read reply is the fixed 9-byte frame 0xDA 0x01 <hi> <lo> <v:5>.
	OpMemory byte = 0xDA

	// OpBlock carries document bookkeeping: bounds, filename, block end.
	OpBlock byte = 0xE7

	// OpElement carries element index/count bookkeeping.
	OpElement byte = 0xF1

	// OpArray carries array repeat counts.
	OpArray byte = 0xF2

	// OpFinish marks the end of all blocks in a job.
	OpFinish byte = 0xEB
)

// OpPower selectors.
const (
	PowerMin1 byte = 0x01
	PowerMax1 byte = 0x02
	PowerImd1 byte = 0x05
	PowerEnd1 byte = 0x06
	PowerMin2 byte = 0x21
	PowerMax2 byte = 0x22
	PowerImd2 byte = 0x25
	PowerEnd2 byte = 0x26

	// PowerFrequency sets the laser frequency: 0xC6 0x60 <laser> <hz:5>.
	PowerFrequency byte = 0x60
)

// OpSpeed selectors.
const (
	SpeedGlobal byte = 0x02 // speed:5
	SpeedLayer  byte = 0x04 // layer:1 speed:5
)

// OpProcess selectors.
const (
	ProcessStart  byte = 0x00
	ProcessStop   byte = 0x01
	ProcessPause  byte = 0x02
	ProcessResume byte = 0x03
	ProcessHomeXY byte = 0x2A
	ProcessHomeZ  byte = 0x2C
	ProcessHomeU  byte = 0x2E
)

// OpMemory selectors.
const (
	MemoryGet byte = 0x00
	MemorySet byte = 0x01
)

// OpBlock selectors.
const (
	BlockEnd         byte = 0x00
	BlockFilename    byte = 0x01 // NUL-terminated 7-bit name
	BlockTopLeft     byte = 0x03 // x:5 y:5
	BlockBottomRight byte = 0x07 // x:5 y:5
)

// OpElement selectors.
const (
	ElementIndex byte = 0x00 // index:2
	ElementCount byte = 0x01 // count:2
)

// OpArray selectors.
const (
	ArrayRepeat byte = 0x00 // cols:2 rows:2
)

// Rapid axis codes (third byte of an OpRapid command).
const (
	AxisX  byte = 0x00
	AxisY  byte = 0x01
	AxisZ  byte = 0x02
	AxisU  byte = 0x03
	AxisXY byte = 0x0F // x:5 y:5 combined jog
)

// OpInterface selectors.
const (
	KeyPress   byte = 0x50
	KeyRelease byte = 0x51
)

// Interface key codes, sent after a press/release selector.
const (
	KeyXPlus  byte = 0x01
	KeyXMinus byte = 0x02
	KeyYPlus  byte = 0x03
	KeyYMinus byte = 0x04
	KeyZPlus  byte = 0x05
	KeyZMinus byte = 0x06
	KeyUPlus  byte = 0x07
	KeyUMinus byte = 0x08
	KeyPause  byte = 0x0A
	KeyStop   byte = 0x0B
	KeyOrigin byte = 0x0C
	KeyEsc    byte = 0x0D
)

// ReplyFrameSize is the fixed size of a memory-read reply:
// [0xDA][0x01][addr:2][value:5].
const ReplyFrameSize = 9

// IsMemoryRead reports whether a plain command is a memory read, i.e. a
// command that elicits a data reply rather than a bare acknowledgement.
func IsMemoryRead(cmd []byte) bool {
	return len(cmd) >= 2 && cmd[0] == OpMemory && cmd[1] == MemoryGet
}

// IsRealtime reports whether a plain command belongs to the realtime
// interface class, which an emulator must act on immediately instead of
// queuing into a job.
func IsRealtime(cmd []byte) bool {
	if len(cmd) == 0 {
		return false
	}
	switch cmd[0] {
	case OpInterface, TokENQ, TokKeepAlive:
		return true
	case OpProcess:
		return len(cmd) >= 2 && cmd[1] != ProcessStart
	default:
		return false
	}
}
