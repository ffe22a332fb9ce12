package aegis

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Transport selects which concrete stream implementation backs a
// Session, per §6's "any reliable, in-order, bidirectional byte stream"
// contract.
type Transport int

const (
	TransportTCP Transport = iota
	TransportKCP
)

// DialerOption configures a Dialer, following the teacher's functional
// options convention. Options can fail (e.g. opening a Storage), so
// NewDialer itself returns an error.
type DialerOption func(*Dialer) error

// WithTransport selects the transport a Dialer uses to connect.
func WithTransport(t Transport) DialerOption {
	return func(d *Dialer) error { d.transport = t; return nil }
}

// DialWithStorageOpts opens a Storage with opts and attaches it to every
// Session this Dialer produces.
func DialWithStorageOpts(opts ...StorageOption) DialerOption {
	return func(d *Dialer) error {
		s, err := OpenStorage(opts...)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		d.storage = s
		return nil
	}
}

// Dialer connects to a listening peer and performs the initiator
// handshake.
type Dialer struct {
	addr      string
	transport Transport
	storage   *Storage
}

// NewDialer constructs a Dialer for addr.
func NewDialer(addr string, opts ...DialerOption) (*Dialer, error) {
	d := &Dialer{addr: addr, transport: TransportTCP}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Dial connects and completes the handshake, returning an established
// Session.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	nc, err := d.dialTransport(ctx)
	if err != nil {
		d.log(slog.LevelError, "dial failed", slog.String("addr", d.addr), slog.Any("err", err))
		return nil, fmt.Errorf("dialing %s: %w", d.addr, err)
	}
	s, err := connectHandshake(newConn(nc))
	if err != nil {
		d.log(slog.LevelWarn, "handshake failed", slog.String("addr", d.addr), slog.Any("err", err))
		_ = nc.Close()
		return nil, err
	}
	s.store = d.storage
	return s, nil
}

func (d *Dialer) log(lvl slog.Level, msg string, args ...any) {
	slog.Log(context.Background(), lvl, msg, args...)
}

func (d *Dialer) dialTransport(ctx context.Context) (net.Conn, error) {
	switch d.transport {
	case TransportKCP:
		return kcp.DialWithOptions(d.addr, nil, 0, 0)
	default:
		var nd net.Dialer
		return nd.DialContext(ctx, "tcp", d.addr)
	}
}

// Connect is a convenience wrapper around NewDialer(addr).Dial(ctx) for
// the common TCP case.
func Connect(ctx context.Context, addr string) (*Session, error) {
	d, err := NewDialer(addr)
	if err != nil {
		return nil, err
	}
	return d.Dial(ctx)
}
