// Package emulator implements the controller side of the wire protocol: it
// validates and acknowledges inbound packets, answers memory reads, executes
// realtime commands immediately, and runs buffered jobs through the same
// interpreter a real controller's motion output is modeled on.
package emulator

import (
	"bytes"
	"sync"

	"github.com/google/uuid"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
)

// Default emulated bed size, in µm.
const (
	DefaultBedWidth  int32 = 900_000
	DefaultBedHeight int32 = 600_000
)

// jobQueueSize bounds the number of finalized jobs awaiting execution.
const jobQueueSize = 16

// JobEvent reports a job transition on TopicJob.
type JobEvent struct {
	ID       uuid.UUID
	State    string // "queued", "done", "aborted"
	Commands int
	Checksum uint16
}

// Emulator is a software controller. One Emulator serves one peer; all
// Accept/Feed calls must come from a single goroutine, while job execution
// happens on the emulator's own executor goroutine.
type Emulator struct {
	enc *codec.Codec
	log logger.Logger

	// execMu guards the interpreter, shared between the executor goroutine
	// and realtime commands executed on the Accept path.
	execMu sync.Mutex
	interp *ruida.Interpreter
	mem    *ruida.MemoryMap

	tok codec.Tokenizer

	pendingMu sync.Mutex
	pending   [][]byte
	queued    map[uint16]int // checksum -> queued count, for dedupe

	jobs    chan *job
	jobWG   sync.WaitGroup
	running sync.WaitGroup

	stateMu sync.Mutex
	state   string
	lastPos ruida.Position

	cutsMu sync.Mutex
	cuts   []*ruida.PlotCut

	ps   *pubsub
	done chan struct{}

	bedW, bedH int32
}

type job struct {
	id       uuid.UUID
	commands [][]byte
	checksum uint16
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithBedSize sets the emulated bed dimensions in µm.
func WithBedSize(width, height int32) Option {
	return func(e *Emulator) {
		e.bedW, e.bedH = width, height
	}
}

// WithLogger sets the emulator logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Emulator) { e.log = log }
}

// New creates an Emulator speaking the given magic key and starts its job
// executor. Close releases it.
func New(magic byte, opts ...Option) *Emulator {
	e := &Emulator{
		enc:    codec.NewCodec(magic),
		log:    logger.GetLogger(),
		queued: make(map[uint16]int),
		jobs:   make(chan *job, jobQueueSize),
		state:  "idle",
		ps:     newPubSub(),
		done:   make(chan struct{}),
		bedW:   DefaultBedWidth,
		bedH:   DefaultBedHeight,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.interp = ruida.NewInterpreter(&emuDriver{e: e}, e.log)
	e.mem = ruida.NewMemoryMap(e.bedW, e.bedH, &emuDriver{e: e})

	e.running.Add(1)
	go e.executor()

	return e
}

// Close stops the executor. Queued jobs are abandoned.
func (e *Emulator) Close() {
	close(e.done)
	e.running.Wait()
}

// Subscribe registers a listener on one of the event topics.
func (e *Emulator) Subscribe(topic string, buffer int) *Subscription {
	return e.ps.Subscribe(topic, buffer)
}

// Cuts returns the plot-cuts committed so far.
func (e *Emulator) Cuts() []*ruida.PlotCut {
	e.cutsMu.Lock()
	defer e.cutsMu.Unlock()

	out := make([]*ruida.PlotCut, len(e.cuts))
	copy(out, e.cuts)

	return out
}

// Memory exposes the emulated memory map.
func (e *Emulator) Memory() *ruida.MemoryMap { return e.mem }

// State returns the current machine state string.
func (e *Emulator) State() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	return e.state
}

// Accept processes one checksum-framed datagram and returns the datagrams
// to answer with: an ACK or NAK token first, then one 9-byte reply frame per
// memory read. All returned bytes are swizzled.
func (e *Emulator) Accept(datagram []byte) [][]byte {
	plain, err := e.enc.UnframePacket(datagram)
	if err != nil {
		e.log.Warn("rejecting packet", "error", err)

		return [][]byte{{e.enc.SwizzleByte(ruida.TokNAK)}}
	}

	replies := [][]byte{{e.enc.SwizzleByte(ruida.TokACK)}}

	return append(replies, e.feedPlain(plain)...)
}

// Feed processes unframed swizzled bytes, as arriving over a stream
// transport or from a captured file. Partial trailing commands are buffered
// until the next Feed or FlushInput. It returns the swizzled reply frames
// for any memory reads.
func (e *Emulator) Feed(data []byte) [][]byte {
	var replies [][]byte
	for _, cmd := range e.tok.Feed(e.enc.Unswizzle(data)) {
		replies = append(replies, e.dispatch(cmd)...)
	}

	return replies
}

// FlushInput terminates the stream tokenizer, dispatching a held trailing
// command.
func (e *Emulator) FlushInput() [][]byte {
	if cmd := e.tok.Flush(); len(cmd) > 0 {
		return e.dispatch(cmd)
	}

	return nil
}

// feedPlain tokenizes one complete plain buffer and dispatches each command.
func (e *Emulator) feedPlain(plain []byte) [][]byte {
	cmds, err := codec.SplitCommands(plain)
	if err != nil {
		e.log.Warn("dropping malformed payload", "error", err)

		return nil
	}

	var replies [][]byte
	for _, cmd := range cmds {
		replies = append(replies, e.dispatch(cmd)...)
	}

	return replies
}

// dispatch routes one plain command: memory operations answer immediately,
// realtime commands execute immediately, everything else buffers into the
// pending job.
func (e *Emulator) dispatch(cmd []byte) [][]byte {
	switch {
	case ruida.IsMemoryRead(cmd):
		return e.answerRead(cmd)

	case len(cmd) >= 2 && cmd[0] == ruida.OpMemory && cmd[1] == ruida.MemorySet:
		e.applyWrite(cmd)

		return nil

	case ruida.IsRealtime(cmd):
		e.execute(cmd)

		return nil

	default:
		e.buffer(cmd)

		return nil
	}
}

func (e *Emulator) answerRead(cmd []byte) [][]byte {
	addr, err := ruida.ParseMemoryGet(cmd)
	if err != nil {
		e.log.Warn("bad memory read", "error", err)

		return nil
	}

	name, value := e.mem.Read(addr)
	e.log.Debug("memory read", "addr", addr, "name", name, "value", value)

	return [][]byte{e.enc.Swizzle(ruida.BuildMemoryReply(addr, value))}
}

func (e *Emulator) applyWrite(cmd []byte) {
	addr, v1, v2, err := ruida.ParseMemorySet(cmd)
	if err != nil {
		e.log.Warn("bad memory write", "error", err)

		return
	}
	e.mem.Write(addr, v1, v2)
}

// execute runs one command through the interpreter under the exec lock and
// refreshes the shared position snapshot.
func (e *Emulator) execute(cmd []byte) {
	e.execMu.Lock()
	desc, err := e.interp.Execute(cmd)
	pos := e.interp.Position()
	e.execMu.Unlock()

	if err != nil {
		e.log.Warn("skipping command", "error", err)

		return
	}
	e.log.Debug("exec", "cmd", desc)

	e.stateMu.Lock()
	e.lastPos = pos
	e.stateMu.Unlock()
}

// buffer appends one command to the pending job, finalizing it at EOF.
func (e *Emulator) buffer(cmd []byte) {
	e.pendingMu.Lock()
	e.pending = append(e.pending, cmd)
	complete := cmd[0] == ruida.OpEOF
	e.pendingMu.Unlock()

	if complete {
		e.submit()
	}
}

// submit finalizes the pending buffer into a job unless an identical
// program is already queued.
func (e *Emulator) submit() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	if len(e.pending) == 0 {
		return
	}

	var buf bytes.Buffer
	for _, cmd := range e.pending {
		buf.Write(cmd)
	}
	sum := codec.Checksum(buf.Bytes())

	if e.queued[sum] > 0 {
		e.log.Info("dropping duplicate job", "checksum", sum)
		e.pending = nil

		return
	}

	j := &job{
		id:       uuid.New(),
		commands: e.pending,
		checksum: sum,
	}
	e.pending = nil

	select {
	case e.jobs <- j:
		e.queued[sum]++
		e.jobWG.Add(1)
		e.ps.Publish(TopicJob, JobEvent{
			ID:       j.id,
			State:    "queued",
			Commands: len(j.commands),
			Checksum: sum,
		})
	default:
		e.log.Warn("job queue full, dropping job", "commands", len(j.commands))
	}
}

// Flush blocks until every queued job finished executing.
func (e *Emulator) Flush() {
	e.jobWG.Wait()
}

func (e *Emulator) executor() {
	defer e.running.Done()

	for {
		select {
		case j := <-e.jobs:
			e.runJob(j)
		case <-e.done:
			return
		}
	}
}

func (e *Emulator) runJob(j *job) {
	defer e.jobWG.Done()

	e.setState("running")
	e.log.Info("job start", "job", j.id.String(), "commands", len(j.commands))

	for _, cmd := range j.commands {
		e.execute(cmd)
	}

	e.pendingMu.Lock()
	e.queued[j.checksum]--
	if e.queued[j.checksum] <= 0 {
		delete(e.queued, j.checksum)
	}
	e.pendingMu.Unlock()

	e.setState("idle")
	e.ps.Publish(TopicJob, JobEvent{
		ID:       j.id,
		State:    "done",
		Commands: len(j.commands),
		Checksum: j.checksum,
	})
}

func (e *Emulator) setState(state string) {
	e.stateMu.Lock()
	e.state = state
	e.stateMu.Unlock()

	e.ps.Publish(TopicStatus, state)
}

// emuDriver feeds interpreter output back into the emulator.
type emuDriver struct{ e *Emulator }

func (d *emuDriver) Plot(cut *ruida.PlotCut) {
	d.e.cutsMu.Lock()
	d.e.cuts = append(d.e.cuts, cut)
	d.e.cutsMu.Unlock()

	d.e.ps.Publish(TopicPosition, cut)
}

func (d *emuDriver) Status() (ruida.Position, string, string) {
	d.e.stateMu.Lock()
	defer d.e.stateMu.Unlock()

	return d.e.lastPos, d.e.state, ""
}
