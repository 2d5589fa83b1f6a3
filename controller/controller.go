// Package controller drives jobs over a session: it splits program buffers
// into wire-sized chunks, streams them under the bulk-send lock, and polls
// the controller's memory for live position and status between jobs.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openlaser/go-ruida/logger"
	"github.com/openlaser/go-ruida/ruida"
	"github.com/openlaser/go-ruida/session"
)

// Controller errors.
var (
	// ErrCommandTooLarge means a single command exceeds the chunk budget and
	// the program cannot be transmitted.
	ErrCommandTooLarge = errors.New("controller: command exceeds chunk budget")
	// ErrEmptyProgram means the program has no commands.
	ErrEmptyProgram = errors.New("controller: empty program")
	// ErrJobInProgress means a bulk send is already running.
	ErrJobInProgress = errors.New("controller: job already in progress")
)

// DefaultChunkBudget is the per-chunk byte limit for bulk sends. Controllers
// drop oversized datagrams, so chunks stay comfortably under the path MTU.
const DefaultChunkBudget = 1000

// ChunkProgram splits a program into chunks of at most budget bytes without
// ever splitting inside a command.
func ChunkProgram(prog *ruida.Program, budget int) ([][]byte, error) {
	cmds := prog.Commands()
	if len(cmds) == 0 {
		return nil, ErrEmptyProgram
	}

	var (
		chunks [][]byte
		chunk  []byte
	)
	for _, cmd := range cmds {
		if len(cmd) > budget {
			return nil, fmt.Errorf("%w: %d > %d", ErrCommandTooLarge, len(cmd), budget)
		}
		if len(chunk)+len(cmd) > budget {
			chunks = append(chunks, chunk)
			chunk = nil
		}
		chunk = append(chunk, cmd...)
	}

	return append(chunks, chunk), nil
}

// JobResult reports the outcome of one bulk send.
type JobResult struct {
	ID     uuid.UUID
	Chunks int
	Bytes  int
	Err    error
}

// CompletionHandler is invoked once per job, after its last chunk was
// acknowledged or the send failed.
type CompletionHandler func(JobResult)

// Controller sends jobs and polls status over one session.
type Controller struct {
	sess   *session.Session
	log    logger.Logger
	budget int

	poller *Poller

	// busy holds one token while a job is streaming.
	busy chan struct{}
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithChunkBudget overrides the per-chunk byte limit.
func WithChunkBudget(n int) ControllerOption {
	return func(c *Controller) { c.budget = n }
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(log logger.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// New creates a Controller over sess.
func New(sess *session.Session, opts ...ControllerOption) *Controller {
	c := &Controller{
		sess:   sess,
		log:    logger.GetLogger(),
		budget: DefaultChunkBudget,
		busy:   make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.poller = newPoller(c.sess, c.log)

	return c
}

// Poller returns the status poller bound to this controller's session.
func (c *Controller) Poller() *Poller { return c.poller }

// SendProgram validates and chunks prog, then streams it in a background
// goroutine under the bulk-send lock. done, when non-nil, receives the job
// outcome. Only one job runs at a time.
func (c *Controller) SendProgram(ctx context.Context, prog *ruida.Program, done CompletionHandler) (uuid.UUID, error) {
	chunks, err := ChunkProgram(prog, c.budget)
	if err != nil {
		return uuid.Nil, err
	}

	select {
	case c.busy <- struct{}{}:
	default:
		return uuid.Nil, ErrJobInProgress
	}

	id := uuid.New()
	c.log.Info("job queued",
		"job", id.String(),
		"chunks", len(chunks),
		"bytes", prog.Len())

	go c.run(ctx, id, chunks, done)

	return id, nil
}

func (c *Controller) run(ctx context.Context, id uuid.UUID, chunks [][]byte, done CompletionHandler) {
	c.sess.SendLock()
	defer func() {
		c.sess.SendUnlock()
		<-c.busy
	}()

	result := JobResult{ID: id, Chunks: len(chunks)}
	for i, chunk := range chunks {
		if err := c.sess.SendWait(ctx, chunk); err != nil {
			c.log.Error("job aborted",
				"job", id.String(),
				"chunk", i,
				"error", err)
			result.Err = fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)

			break
		}
		result.Bytes += len(chunk)
	}

	if result.Err == nil {
		c.log.Info("job sent", "job", id.String(), "bytes", result.Bytes)
	}
	if done != nil {
		done(result)
	}
}
