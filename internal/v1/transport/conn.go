// Package transport implements the per-connection pipeline for the game TCP
// protocol: an ordered send queue drained by a dedicated writer goroutine, a
// receive loop that hands decoded frames to the owning session, and a
// last-activity clock used by the session heartbeat.
package transport

import (
	"bufio"
	"container/list"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rhyline/rhyline-server/internal/v1/metrics"
	"github.com/rhyline/rhyline-server/internal/v1/wire"
)

// Handler receives the connection's inbound events. HandleFrame is called
// sequentially from the receive loop; HandleClosed is called exactly once
// when the stream ends, whether by peer close, protocol error, or Close.
type Handler interface {
	HandleFrame(payload []byte)
	HandleClosed(err error)
}

// Conn wraps one accepted TCP connection.
//
// Outbound frames go through an unbounded FIFO queue; a single writer
// goroutine dequeues one payload at a time, writes the ULEB128 length prefix
// and the payload, and flushes. Writes are therefore strictly ordered and
// never interleave.
type Conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List // of []byte frame payloads
	closed bool

	closeOnce   sync.Once
	lastReceive atomic.Int64 // unix nanoseconds
}

// NewConn wraps nc. The pipeline does not run until Start.
func NewConn(nc net.Conn) *Conn {
	c := &Conn{
		nc:    nc,
		br:    bufio.NewReader(nc),
		bw:    bufio.NewWriter(nc),
		queue: list.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	c.lastReceive.Store(time.Now().UnixNano())
	return c
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// ReadVersionByte consumes the protocol version byte that opens every
// connection. It is not echoed and does not reappear in later frames.
func (c *Conn) ReadVersionByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, err
	}
	c.lastReceive.Store(time.Now().UnixNano())
	return b, nil
}

// Start launches the sender and receiver goroutines.
func (c *Conn) Start(h Handler) {
	go c.writeLoop()
	go c.readLoop(h)
}

// Send enqueues an encoded frame payload. Sends after Close are silently
// dropped.
func (c *Conn) Send(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue.PushBack(payload)
	c.mu.Unlock()
	c.cond.Signal()
}

// LastReceive reports when the last frame (or version byte) arrived.
func (c *Conn) LastReceive() time.Time {
	return time.Unix(0, c.lastReceive.Load())
}

// Close cancels both loops, drops unsent queue items, and closes the socket.
// It is idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue.Init()
		c.mu.Unlock()
		c.cond.Broadcast()
		_ = c.nc.Close()
	})
}

func (c *Conn) writeLoop() {
	for {
		c.mu.Lock()
		for c.queue.Len() == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		payload := c.queue.Remove(c.queue.Front()).([]byte)
		c.mu.Unlock()

		if err := wire.WriteFrame(c.bw, payload); err != nil {
			c.Close()
			return
		}
		if err := c.bw.Flush(); err != nil {
			c.Close()
			return
		}
		metrics.FramesSent.Inc()
	}
}

func (c *Conn) readLoop(h Handler) {
	for {
		payload, err := wire.ReadFrame(c.br)
		if err != nil {
			c.Close()
			h.HandleClosed(err)
			return
		}
		c.lastReceive.Store(time.Now().UnixNano())
		h.HandleFrame(payload)
	}
}
