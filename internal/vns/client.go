package vns

import (
	"context"
	"net"
	"sync"
	"time"

	"meshmonitor/internal/transport"
)

const clientWriteTimeout = 5 * time.Second

// client is one connected virtual node peer. Reads run through a streaming
// frame decoder so partial TCP chunks reassemble correctly; writes drain a
// bounded queue with pacing so a slow phone cannot stall the broadcast loop.
type client struct {
	id     string
	conn   net.Conn
	server *Server

	outbox chan []byte

	// wmu serializes conn writes between the outbox drain and direct
	// config-replay writes so frames never interleave.
	wmu sync.Mutex

	mu      sync.Mutex
	active  time.Time
	closed  bool
	dropped int
}

func newClient(id string, conn net.Conn, server *Server) *client {
	return &client{
		id:     id,
		conn:   conn,
		server: server,
		outbox: make(chan []byte, clientQueueCap),
		active: time.Now(),
	}
}

func (c *client) touch() {
	c.mu.Lock()
	c.active = time.Now()
	c.mu.Unlock()
}

func (c *client) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active
}

// enqueue queues one framed record, dropping it when the queue is full. The
// client resynchronizes naturally since every record is self-framed.
func (c *client) enqueue(frame []byte) {
	select {
	case c.outbox <- frame:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		if n == 1 || n%100 == 0 {
			c.server.logger.Warn("client queue full, dropping frames", "client", c.id, "dropped", n)
		}
	}
}

// sendDirect writes one framed record straight to the connection, bypassing
// the bounded outbox. Config replay uses it so a node table larger than the
// queue cannot drop the tail of the exchange.
func (c *client) sendDirect(frame []byte) error {
	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	_, err := c.conn.Write(frame)
	c.wmu.Unlock()
	if err != nil {
		return err
	}
	time.Sleep(drainPacing)

	return nil
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *client) runReader(ctx context.Context) {
	var decoder transport.FrameDecoder
	buf := make([]byte, 4096)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for _, payload := range decoder.Take() {
				if len(payload) == 0 {
					continue
				}
				c.server.handleToRadio(ctx, c, payload)
			}
		}
		if err != nil {
			c.server.removeClient(c, "read: "+err.Error())

			return
		}
		if ctx.Err() != nil {
			c.server.removeClient(c, "shutdown")

			return
		}
	}
}

// runWriter drains the outbox with a short gap between frames. Stock client
// apps lose records when a config burst arrives back to back.
func (c *client) runWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			c.wmu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			_, err := c.conn.Write(frame)
			c.wmu.Unlock()
			if err != nil {
				c.server.removeClient(c, "write: "+err.Error())

				return
			}
			time.Sleep(drainPacing)
		}
	}
}
