package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aegis-chat/aegis"
	"github.com/aegis-chat/aegis/pkg/fingerprint"
)

const (
	heartbeatInterval = 30 * time.Second
	peerTimeout       = 90 * time.Second
	rotationInterval  = 60 * time.Second
)

var errCh = make(chan error)
var stop = make(chan struct{})

var showQR bool

func main() {
	var dbFlag string
	flag.StringVar(&dbFlag, "db", "", "path to DB file")
	flag.BoolVar(&showQR, "qr", false, "print the session fingerprint as a QR code too")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Println("expected 2 args: [mode] [addr|sessionID]")
		fmt.Println("modes: dial, serve, history")
		fmt.Println("example: ./chat -db ./client.db dial 127.0.0.1:9000")
		os.Exit(1)
	}

	mode, arg := args[0], args[1]

	switch mode {
	case "dial":
		go client(arg)
	case "serve":
		go server(arg)
	case "history":
		go func() {
			if err := printHistory(arg, dbFlag); err != nil {
				errCh <- fmt.Errorf("history: %w", err)
			}
			stop <- struct{}{}
		}()
	default:
		fmt.Printf("invalid command: %s\n", mode)
		os.Exit(1)
	}

	select {
	case err := <-errCh:
		fmt.Println("error:", err)
	case <-stop:
	}
}

// verifyChallenge is a fixed, public string: both ends of a session
// compute a proof over it independently from their shared root secret
// (§12 supplement), so reading the short hex digest aloud alongside the
// emoji fingerprint gives a second, cheaper-to-compare confirmation that
// both sides really share the same handshake secret.
const verifyChallenge = "aegis-verify-v1"

func runSession(s *aegis.Session) {
	fp := strings.Join(fingerprint.Emoji(s.Fingerprint()), " • ")
	fmt.Printf("Session fingerprint: %s\n", fp)
	if proof, err := s.ProveKeyKnowledge([]byte(verifyChallenge)); err == nil {
		fmt.Printf("Verification code: %x\n", proof[:6])
	}
	if showQR {
		if qr, err := fingerprint.QrCode(s.Fingerprint()); err == nil {
			fmt.Println(string(qr))
		}
	}

	p := tea.NewProgram(initialModel(s), tea.WithAltScreen())
	go func() {
		if _, err := p.Run(); err != nil {
			errCh <- err
		}
		stop <- struct{}{}
	}()

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	heartbeatDone := make(chan struct{})
	go heartbeatLoop(s, &lastActivity, heartbeatDone)
	defer close(heartbeatDone)

	for {
		data, err := s.Recv(context.Background())
		if err != nil {
			if errors.Is(err, aegis.ErrConnClosed) {
				p.Quit()
				return
			}
			errCh <- fmt.Errorf("receiving: %w", err)
			return
		}
		lastActivity.Store(time.Now().UnixNano())
		if len(data) == 0 {
			continue
		}
		now := time.Now()
		p.Send(NewMessage(now, data))
		if store := s.Store(); store != nil {
			go store.AddChatEntry(s.SessionID(), data, now, false)
		}
	}
}

// heartbeatLoop sends a heartbeat every heartbeatInterval and closes the
// session if nothing at all (including heartbeat replies) has been heard
// from the peer within peerTimeout, per the 30s/90s schedule named in §6.
// It also fires Session.Rotate on its own rotationInterval ticker: Send
// already rotates the send chain lazily, but a session that only ever
// receives (or only exchanges heartbeats) would otherwise never rotate
// its receive chain.
func heartbeatLoop(s *aegis.Session, lastActivity *atomic.Int64, done <-chan struct{}) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	rotate := time.NewTicker(rotationInterval)
	defer rotate.Stop()

	for {
		select {
		case <-done:
			return
		case <-rotate.C:
			// Skip if a send already rotated this epoch (NextSendKey
			// rotates lazily too); SecondsUntilRotation reports 0 once
			// due.
			if s.SecondsUntilRotation() == 0 {
				if err := s.Rotate(); err != nil {
					log.Printf("rotate: %v", err)
				}
			}
		case <-heartbeat.C:
			since := time.Since(time.Unix(0, lastActivity.Load()))
			if since > peerTimeout {
				_ = s.Close()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.SendHeartbeat(ctx)
			cancel()
		}
	}
}

func server(addr string) {
	srv, err := aegis.NewServer(addr, func(s *aegis.Session) error {
		runSession(s)
		return nil
	}, aegis.ServeWithStorageOpts(
		aegis.StorageWithDBPath("./server.db"),
		aegis.StorageWithNoPassphrase(),
	))
	if err != nil {
		errCh <- fmt.Errorf("starting server: %w", err)
		return
	}
	fmt.Printf("Starting server on %s\n", addr)
	errCh <- srv.ListenAndServe()
}

func client(addr string) {
	dialer, err := aegis.NewDialer(addr, aegis.DialWithStorageOpts(
		aegis.StorageWithDBPath("./client.db"),
		aegis.StorageWithNoPassphrase(),
	))
	if err != nil {
		errCh <- fmt.Errorf("creating dialer: %w", err)
		return
	}

	var s *aegis.Session
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err = dialer.Dial(ctx)
		cancel()
		if err == nil {
			break
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			time.Sleep(2 * time.Second)
			continue
		}
		log.Printf("dial err: %v", err)
		time.Sleep(5 * time.Second)
	}
	defer s.Close()

	runSession(s)
}

// printHistory opens a local database and prints the recorded chat entries
// for sessionID to stdout.
func printHistory(sessionID, dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("db path must be provided with -db flag")
	}

	s, err := aegis.OpenStorage(
		aegis.StorageWithDBPath(dbPath),
		aegis.StorageWithNoPassphrase(),
	)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	entries, err := s.GetChatHistory(sessionID)
	if err != nil {
		return fmt.Errorf("getting chat history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("no chat entries found for session:", sessionID)
		return nil
	}

	for _, ent := range entries {
		sender := "You"
		if !ent.SentByLocal {
			sender = "Peer"
		}
		fmt.Printf("%s: %s  %s\n", sender, ent.Timestamp.Format(time.DateTime), string(ent.Data))
	}

	return nil
}
