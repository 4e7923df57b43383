package messaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// maxFrameSize bounds one line of the stream; image payloads are large.
const maxFrameSize = 32 << 20

// Frame is one line of the stream transport. The id only correlates a reply
// with its request on a shared stream; the protocol itself carries no ids.
type Frame struct {
	ID      string   `json:"id"`
	Message *Request `json:"message,omitempty"`
	Reply   *Reply   `json:"reply,omitempty"`
}

// frameWriter serializes concurrent frame writes.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) write(f Frame) error {
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame %s: %w", f.ID, err)
	}
	line = append(line, '\n')
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(line)
	return err
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameSize)
	return sc
}

// ServeStream reads line-delimited request frames from in and writes one reply
// frame per request to out. It returns when in is exhausted (after every
// in-flight request has replied) or when ctx is cancelled.
func (r *Router) ServeStream(ctx context.Context, in io.Reader, out io.Writer) error {
	fw := &frameWriter{w: out}
	sc := newScanner(in)
	var pending sync.WaitGroup
	defer pending.Wait()

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var f Frame
		if err := json.Unmarshal(line, &f); err != nil || f.Message == nil {
			r.logger.Warn("Malformed request frame", zap.Error(err), zap.Int("bytes", len(line)))
			if f.ID != "" {
				_ = fw.write(Frame{ID: f.ID, Reply: &Reply{Error: "malformed message"}})
			}
			continue
		}

		id := f.ID
		pending.Add(1)
		r.Dispatch(ctx, *f.Message, func(rep Reply) {
			defer pending.Done()
			if err := fw.write(Frame{ID: id, Reply: &rep}); err != nil {
				r.logger.Error("Failed to write reply", zap.String("id", id), zap.Error(err))
			}
		})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read request stream: %w", err)
	}
	return nil
}

// Conn is the content side of a stream transport. It multiplexes concurrent
// requests over one reader/writer pair.
type Conn struct {
	logger *zap.Logger
	fw     *frameWriter

	mu      sync.Mutex
	pending map[string]chan Reply
	nextID  uint64
	err     error

	done chan struct{}
}

// NewConn starts reading reply frames from in. Requests are written to out.
func NewConn(in io.Reader, out io.Writer, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		logger:  logger.Named("conn"),
		fw:      &frameWriter{w: out},
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	go c.readLoop(in)
	return c
}

func (c *Conn) readLoop(in io.Reader) {
	defer close(c.done)
	sc := newScanner(in)
	for sc.Scan() {
		var f Frame
		if err := json.Unmarshal(sc.Bytes(), &f); err != nil || f.Reply == nil {
			c.logger.Warn("Malformed reply frame", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("Reply for unknown request", zap.String("id", f.ID))
			continue
		}
		ch <- *f.Reply
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.err = errors.Join(ErrClosed, err)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Send writes req and waits for its reply.
func (c *Conn) Send(ctx context.Context, req Request) (Reply, error) {
	ch := make(chan Reply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Reply{}, err
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.fw.write(Frame{ID: id, Message: &req}); err != nil {
		c.forget(id)
		return Reply{}, fmt.Errorf("failed to send %s: %w", req.Action, err)
	}

	select {
	case rep, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return Reply{}, err
		}
		return rep, nil
	case <-ctx.Done():
		c.forget(id)
		return Reply{}, ctx.Err()
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Done is closed once the reply stream ends.
func (c *Conn) Done() <-chan struct{} { return c.done }
