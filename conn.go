package aegis

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aegis-chat/aegis/pkg/wire"
)

// readChunkSize is how much is read from the transport per syscall while
// refilling conn's frame-assembly buffer.
const readChunkSize = 64 * 1024

// conn frames a net.Conn with pkg/wire, matching the teacher's
// length-prefix convention from its own connection wrapper.
type conn struct {
	nc  net.Conn
	buf []byte
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc}
}

// writeFrame serializes and writes one envelope, honoring ctx's deadline.
func (c *conn) writeFrame(ctx context.Context, env wire.Envelope) error {
	frame, err := wire.FrameMessage(env)
	if err != nil {
		return fmt.Errorf("framing message: %w", err)
	}
	if err := c.applyWriteDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.nc.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readFrame reads and accumulates bytes until one full envelope can be
// parsed, honoring ctx's deadline.
func (c *conn) readFrame(ctx context.Context) (*wire.Envelope, error) {
	if err := c.applyReadDeadline(ctx); err != nil {
		return nil, err
	}

	for {
		env, consumed, err := wire.ParseFramedMessage(c.buf)
		switch {
		case err == nil:
			c.buf = append([]byte(nil), c.buf[consumed:]...)
			return env, nil
		case wire.Recoverable(err):
			// Fall through to read more bytes.
		default:
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}

		chunk := make([]byte, readChunkSize)
		n, rerr := c.nc.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil, ErrConnClosed
			}
			return nil, fmt.Errorf("reading frame: %w", rerr)
		}
	}
}

func (c *conn) applyWriteDeadline(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.nc.SetWriteDeadline(deadline)
	}
	return c.nc.SetWriteDeadline(time.Time{})
}

func (c *conn) applyReadDeadline(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.nc.SetReadDeadline(deadline)
	}
	return c.nc.SetReadDeadline(time.Time{})
}

func (c *conn) Close() error {
	return c.nc.Close()
}
