package aegis

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Handler processes one established Session. The Server closes the
// Session after Handler returns.
type Handler func(*Session) error

// ServerOption configures a Server. Options can fail (e.g. opening a
// Storage), so NewServer itself returns an error.
type ServerOption func(*Server) error

// WithServerTransport selects the transport a Server listens on.
func WithServerTransport(t Transport) ServerOption {
	return func(s *Server) error { s.transport = t; return nil }
}

// ServeWithStorageOpts opens a Storage with opts and attaches it to
// every Session this Server accepts.
func ServeWithStorageOpts(opts ...StorageOption) ServerOption {
	return func(s *Server) error {
		storage, err := OpenStorage(opts...)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		s.storage = storage
		return nil
	}
}

// Server accepts connections, performs the responder handshake on each,
// and dispatches the resulting Session to a Handler.
type Server struct {
	addr      string
	transport Transport
	handler   Handler
	storage   *Storage
}

// NewServer constructs a Server bound to addr.
func NewServer(addr string, handler Handler, opts ...ServerOption) (*Server, error) {
	s := &Server{addr: addr, transport: TransportTCP, handler: handler}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ListenAndServe blocks accepting connections; it returns only if the
// listener cannot be opened. Each accepted connection's handshake and Handler run on their own
// goroutine, so one slow or malicious peer cannot stall another. A single
// failed Accept (a transient resource or network hiccup) doesn't bring
// down the listener; it's logged and the loop continues.
func (s *Server) ListenAndServe() error {
	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	defer ln.Close()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.log(slog.LevelError, "accept conn", slog.Any("err", err))
			continue
		}
		s.log(slog.LevelInfo, "accepted conn", slog.String("remote", nc.RemoteAddr().String()))
		go s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	defer func() {
		if err := recover(); err != nil {
			s.log(slog.LevelError, "serve panic", slog.Any("err", err))
		}
	}()

	session, err := acceptHandshake(newConn(nc))
	if err != nil {
		s.log(slog.LevelWarn, "handshake failed", slog.Any("err", err))
		_ = nc.Close()
		return
	}
	session.store = s.storage
	defer session.Close()
	if err := s.handler(session); err != nil {
		s.log(slog.LevelWarn, "handler returned error", slog.Any("err", err))
	}
}

func (s *Server) log(lvl slog.Level, msg string, args ...any) {
	slog.Log(context.Background(), lvl, msg, args...)
}

func (s *Server) listen() (net.Listener, error) {
	switch s.transport {
	case TransportKCP:
		return kcp.ListenWithOptions(s.addr, nil, 0, 0)
	default:
		return net.Listen("tcp", s.addr)
	}
}
