package ruida

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaser/go-ruida/codec"
)

// recordDriver captures committed plot-cuts for assertions.
type recordDriver struct {
	cuts  []*PlotCut
	pos   Position
	state string
}

func (d *recordDriver) Plot(cut *PlotCut) { d.cuts = append(d.cuts, cut) }

func (d *recordDriver) Status() (Position, string, string) {
	return d.pos, d.state, ""
}

// runProgram executes all of p's commands through a fresh interpreter.
func runProgram(t *testing.T, it *Interpreter, p *Program) {
	t.Helper()
	for _, cmd := range p.Commands() {
		_, err := it.Execute(cmd)
		require.NoError(t, err)
	}
}

func TestInterpreter_BuildExecuteSymmetry(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.SetSpeed(25))
	require.NoError(t, p.SetMaxPower(1, 60))
	require.NoError(t, p.SetFrequency(1, 20000))
	require.NoError(t, p.MoveAbs(1000, 2000))

	it := NewInterpreter(nil, nil)
	runProgram(t, it, p)

	assert.Equal(t, 25.0, it.Speed())
	assert.InDelta(t, 60.0, it.MaxPower(1), 0.01)
	assert.Equal(t, uint32(20000), it.Frequency(1))
	assert.Equal(t, Position{X: 1000, Y: 2000}, it.Position())
}

func TestInterpreter_PlotCutAccumulation(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.SetMaxPower(1, 50))
	require.NoError(t, p.MoveAbs(0, 0))
	require.NoError(t, p.CutAbs(1000, 0))
	require.NoError(t, p.CutAbs(1000, 1000))
	require.NoError(t, p.MoveAbs(5000, 5000)) // travel commits the open cut
	require.NoError(t, p.CutAbs(6000, 5000))
	require.NoError(t, p.EOF()) // eof commits the second cut

	drv := &recordDriver{}
	it := NewInterpreter(drv, nil)
	runProgram(t, it, p)

	require.Len(t, drv.cuts, 2)

	first := drv.cuts[0]
	assert.InDelta(t, 50.0, first.Power, 0.01)
	assert.Equal(t, 2, first.Segments())
	assert.Equal(t, Point{X: 0, Y: 0}, first.Points[0])
	assert.Equal(t, int32(1000), first.Points[2].Y)

	second := drv.cuts[1]
	assert.Equal(t, 1, second.Segments())
	assert.Equal(t, int32(5000), second.Points[0].X)
	assert.Equal(t, int32(6000), second.Points[1].X)
}

func TestInterpreter_MoveCutSingleSegment(t *testing.T) {
	// The §4.6 shape: one travel then one cut yields exactly one committed
	// segment at the configured power.
	p := NewProgram()
	require.NoError(t, p.SetMaxPower(1, 30))
	require.NoError(t, p.MoveAbs(1000, 2000))
	require.NoError(t, p.CutAbs(3000, 2000))

	drv := &recordDriver{}
	it := NewInterpreter(drv, nil)
	runProgram(t, it, p)

	assert.Empty(t, drv.cuts, "cut stays open until a commit trigger")
	it.Flush()

	require.Len(t, drv.cuts, 1)
	cut := drv.cuts[0]
	assert.Equal(t, 1, cut.Segments())
	assert.Equal(t, Point{X: 1000, Y: 2000}, cut.Points[0])
	assert.Equal(t, int32(3000), cut.Points[1].X)
	assert.Equal(t, int32(2000), cut.Points[1].Y)
	assert.InDelta(t, 30.0, cut.Power, 0.01)
}

func TestInterpreter_PowerChangeCommits(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.SetMaxPower(1, 40))
	require.NoError(t, p.MoveAbs(0, 0))
	require.NoError(t, p.CutAbs(1000, 0))
	require.NoError(t, p.SetMaxPower(1, 80)) // settings change commits
	require.NoError(t, p.CutAbs(2000, 0))
	require.NoError(t, p.EndBlock())

	drv := &recordDriver{}
	it := NewInterpreter(drv, nil)
	runProgram(t, it, p)

	require.Len(t, drv.cuts, 2)
	assert.InDelta(t, 40.0, drv.cuts[0].Power, 0.01)
	assert.InDelta(t, 80.0, drv.cuts[1].Power, 0.01)
}

func TestInterpreter_TravelOnlyNeverCommits(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.MoveAbs(0, 0))
	require.NoError(t, p.MoveAbs(1000, 1000))
	require.NoError(t, p.MoveAbs(2000, 2000))
	require.NoError(t, p.EOF())

	drv := &recordDriver{}
	it := NewInterpreter(drv, nil)
	runProgram(t, it, p)

	assert.Empty(t, drv.cuts)
}

func TestInterpreter_RelativeMotion(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.MoveAbs(1000, 1000))
	require.NoError(t, p.MoveRel(-500, 250))
	require.NoError(t, p.MoveRelX(10))
	require.NoError(t, p.MoveRelY(-10))

	it := NewInterpreter(nil, nil)
	runProgram(t, it, p)

	assert.Equal(t, Position{X: 510, Y: 1240}, it.Position())
}

func TestInterpreter_RapidAxes(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.Rapid(AxisZ, -300))
	require.NoError(t, p.Rapid(AxisU, 77))
	require.NoError(t, p.RapidXY(4000, 5000))

	it := NewInterpreter(nil, nil)
	runProgram(t, it, p)

	assert.Equal(t, Position{X: 4000, Y: 5000, Z: -300, U: 77}, it.Position())
}

func TestInterpreter_ProcessStopDropsOpenPlot(t *testing.T) {
	p := NewProgram()
	require.NoError(t, p.SetMaxPower(1, 50))
	require.NoError(t, p.MoveAbs(0, 0))
	require.NoError(t, p.CutAbs(1000, 0))
	require.NoError(t, p.StopProcess())
	require.NoError(t, p.EOF())

	drv := &recordDriver{}
	it := NewInterpreter(drv, nil)
	runProgram(t, it, p)

	assert.Empty(t, drv.cuts, "aborted job must not flush its open cut")
}

func TestInterpreter_Describe(t *testing.T) {
	it := NewInterpreter(nil, nil)

	cases := []struct {
		cmd  []byte
		want string
	}{
		{codec.EncodeS35(codec.EncodeS35([]byte{OpMoveAbs}, 1000), 2000), "move abs (1000, 2000)"},
		{[]byte{OpProcess, ProcessHomeXY}, "home xy"},
		{[]byte{OpInterface, KeyPress, KeyOrigin}, "key press origin"},
		{[]byte{TokACK}, "ack"},
		{[]byte{OpEOF}, "eof"},
		{[]byte{OpMemory, MemoryGet, 0x05, 0x7E}, "get setting 0x057E"},
	}
	for _, tc := range cases {
		desc, err := it.Execute(tc.cmd)
		require.NoError(t, err)
		assert.Equal(t, tc.want, desc)
	}
}

func TestInterpreter_DecodeErrors(t *testing.T) {
	it := NewInterpreter(nil, nil)

	_, err := it.Execute([]byte{0x9F})
	assert.ErrorIs(t, err, codec.ErrUnknownOpcode)

	_, err = it.Execute([]byte{OpMoveAbs, 0x01, 0x02})
	assert.ErrorIs(t, err, codec.ErrShortCommand)

	_, err = it.Execute([]byte{OpPower, 0x7F, 0x00, 0x00})
	assert.ErrorIs(t, err, codec.ErrUnknownOpcode)

	var decodeErr *codec.DecodeError
	_, err = it.Execute([]byte{OpMoveAbs})
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, OpMoveAbs, decodeErr.Opcode)
}

func TestMemoryReply_RoundTrip(t *testing.T) {
	frame := BuildMemoryReply(0x0021, 123456)
	require.Len(t, frame, ReplyFrameSize)

	addr, value, err := ParseMemoryReply(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0021), addr)
	assert.Equal(t, uint64(123456), value)
}

func TestIsMemoryRead(t *testing.T) {
	assert.True(t, IsMemoryRead([]byte{OpMemory, MemoryGet, 0x05, 0x7E}))
	assert.False(t, IsMemoryRead([]byte{OpMemory, MemorySet, 0x05, 0x7E}))
	assert.False(t, IsMemoryRead([]byte{OpMoveAbs}))
}

func TestIsRealtime(t *testing.T) {
	assert.True(t, IsRealtime([]byte{OpInterface, KeyPress, KeyPause}))
	assert.True(t, IsRealtime([]byte{TokENQ}))
	assert.True(t, IsRealtime([]byte{OpProcess, ProcessStop}))
	assert.False(t, IsRealtime([]byte{OpProcess, ProcessStart}), "start process is queued, not realtime")
	assert.False(t, IsRealtime([]byte{OpMoveAbs, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
}
