package aegis

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/aegis-chat/aegis/internal/enigma"
	"github.com/aegis-chat/aegis/pkg/wire"
)

func newSessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	type result struct {
		s   *Session
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := connectHandshake(newConn(clientConn))
		clientCh <- result{s, err}
	}()
	go func() {
		s, err := acceptHandshake(newConn(serverConn))
		serverCh <- result{s, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh

	if clientRes.err != nil {
		t.Fatalf("connectHandshake: %v", clientRes.err)
	}
	if serverRes.err != nil {
		t.Fatalf("acceptHandshake: %v", serverRes.err)
	}

	return clientRes.s, serverRes.s
}

func TestHandshakeAgreesOnRootKeyAndSessionID(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	if string(client.rootKey.Bytes()) != string(server.rootKey.Bytes()) {
		t.Fatal("client and server derived different root keys")
	}
	if client.SessionID() != server.SessionID() {
		t.Fatalf("session IDs differ: %s vs %s", client.SessionID(), server.SessionID())
	}
}

func TestHandshakeFingerprintMatchesInitiatorKey(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	if string(client.Fingerprint()) != string(server.Fingerprint()) {
		t.Fatal("fingerprint should match the initiator's public key on both sides")
	}
}

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	done := make(chan []byte, 1)
	go func() {
		data, err := server.Recv(ctx)
		if err != nil {
			t.Errorf("server.Recv: %v", err)
			done <- nil
			return
		}
		done <- data
	}()

	if err := client.Send(ctx, []byte("hello peer")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}

	got := <-done
	if string(got) != "hello peer" {
		t.Fatalf("got %q, want %q", got, "hello peer")
	}
}

func TestSendRecvManyMessagesBothDirections(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	const n = 20
	serverRecv := make(chan []byte, n)
	clientRecv := make(chan []byte, n)

	go func() {
		for range n {
			data, err := server.Recv(ctx)
			if err != nil {
				t.Errorf("server.Recv: %v", err)
				return
			}
			serverRecv <- data
		}
	}()
	go func() {
		for range n {
			data, err := client.Recv(ctx)
			if err != nil {
				t.Errorf("client.Recv: %v", err)
				return
			}
			clientRecv <- data
		}
	}()

	for i := range n {
		if err := client.Send(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("client.Send: %v", err)
		}
		if err := server.Send(ctx, []byte{byte(i + 100)}); err != nil {
			t.Fatalf("server.Send: %v", err)
		}
	}

	for i := range n {
		if got := <-serverRecv; got[0] != byte(i) {
			t.Fatalf("server received %d, want %d", got[0], i)
		}
		if got := <-clientRecv; got[0] != byte(i+100) {
			t.Fatalf("client received %d, want %d", got[0], i+100)
		}
	}
}

func TestHeartbeatIsHandledInternally(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Server sees the inbound Heartbeat and replies automatically, which
	// the client must be concurrently reading to avoid blocking the
	// server's reply write (net.Pipe is unbuffered). The client's Recv in
	// turn answers that reply with a Heartbeat of its own, so the server
	// side reads and discards one more frame to let that write complete.
	serverDone := make(chan []byte, 1)
	go func() {
		data, err := server.Recv(ctx)
		if err != nil {
			t.Errorf("server.Recv: %v", err)
			serverDone <- nil
			return
		}
		serverDone <- data
		if _, err := server.conn.readFrame(ctx); err != nil {
			t.Errorf("reading client's heartbeat echo: %v", err)
		}
	}()
	clientDone := make(chan []byte, 1)
	go func() {
		data, err := client.Recv(ctx)
		if err != nil {
			t.Errorf("client.Recv: %v", err)
			clientDone <- nil
			return
		}
		clientDone <- data
	}()

	if err := client.SendHeartbeat(ctx); err != nil {
		t.Fatalf("client.SendHeartbeat: %v", err)
	}
	if got := <-serverDone; len(got) != 0 {
		t.Fatalf("expected empty slice for heartbeat, got %q", got)
	}
	if got := <-clientDone; len(got) != 0 {
		t.Fatalf("expected empty slice for heartbeat reply, got %q", got)
	}
}

func TestCloseSendsDisconnect(t *testing.T) {
	client, server := newSessionPair(t)
	defer server.Close()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := server.Recv(ctx)
		done <- err
	}()

	if err := client.Close(); err != nil {
		t.Fatalf("client.Close: %v", err)
	}

	err := <-done
	if !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestProveKeyKnowledgeAgreesBetweenPeers(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	challenge := []byte("do we share a root secret?")
	clientProof, err := client.ProveKeyKnowledge(challenge)
	if err != nil {
		t.Fatalf("client.ProveKeyKnowledge: %v", err)
	}
	serverProof, err := server.ProveKeyKnowledge(challenge)
	if err != nil {
		t.Fatalf("server.ProveKeyKnowledge: %v", err)
	}
	if clientProof != serverProof {
		t.Fatal("proofs over the same challenge should match between peers")
	}

	otherProof, err := client.ProveKeyKnowledge([]byte("a different challenge"))
	if err != nil {
		t.Fatalf("client.ProveKeyKnowledge: %v", err)
	}
	if otherProof == clientProof {
		t.Fatal("different challenges should not produce the same proof")
	}
}

func TestSendRecvLargeMessage(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	want := bytes.Repeat([]byte{0xA5}, 100*1024)

	done := make(chan []byte, 1)
	go func() {
		data, err := server.Recv(ctx)
		if err != nil {
			t.Errorf("server.Recv: %v", err)
			done <- nil
			return
		}
		done <- data
	}()

	if err := client.Send(ctx, want); err != nil {
		t.Fatalf("client.Send: %v", err)
	}

	got := <-done
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d bytes, equal=%v", len(got), len(want), bytes.Equal(got, want))
	}
}

func TestRecvTamperedCiphertextFailsAuthentication(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()

	key, counter, err := client.ratchet.NextSendKey()
	if err != nil {
		t.Fatalf("NextSendKey: %v", err)
	}
	cipher, err := enigma.NewFromKey(key[:])
	if err != nil {
		t.Fatalf("enigma.NewFromKey: %v", err)
	}
	var nonce [wire.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	ciphertext := cipher.SealDetached(nonce[:], []byte("tamper me"), nil)
	ciphertext[0] ^= 0xFF // flip every bit of the first ciphertext byte, corrupting the body

	payload := wire.EncryptedMessagePayload{Nonce: nonce, Counter: counter, Ciphertext: ciphertext}
	env := wire.Envelope{
		Version:     wire.CurrentVersion,
		MessageType: wire.TypeEncryptedMessage,
		Timestamp:   uint64(time.Now().Unix()),
		KeyID:       client.keyID,
		Payload:     payload.Encode(),
	}
	if err := client.conn.writeFrame(ctx, env); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	_, err = server.Recv(ctx)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if server.established {
		t.Fatal("session should no longer be established after a failed AEAD check")
	}
}

func TestRotateKeysReflectsOnPeer(t *testing.T) {
	client, server := newSessionPair(t)
	defer client.Close()
	defer server.Close()

	ctx := context.Background()
	done := make(chan []byte, 1)
	go func() {
		data, err := server.Recv(ctx)
		if err != nil {
			t.Errorf("server.Recv: %v", err)
			done <- nil
			return
		}
		done <- data
	}()

	if err := client.RotateKeys(ctx, 1); err != nil {
		t.Fatalf("client.RotateKeys: %v", err)
	}
	got := <-done
	if len(got) != 0 {
		t.Fatalf("expected empty slice for key rotation, got %q", got)
	}

	// Both sides should now produce identical message keys post-rotation.
	done2 := make(chan []byte, 1)
	go func() {
		data, err := server.Recv(ctx)
		if err != nil {
			t.Errorf("server.Recv: %v", err)
			done2 <- nil
			return
		}
		done2 <- data
	}()
	if err := client.Send(ctx, []byte("post-rotation")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	if got := <-done2; string(got) != "post-rotation" {
		t.Fatalf("got %q after rotation", got)
	}
}
