package consensus

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBeginCommitRejectsUnknownBlock(t *testing.T) {
	f := NewFacade(func(string) bool { return false }, nil, nil)
	if _, err := f.BeginCommit("b1"); err != ErrUnknownBlock {
		t.Fatalf("want ErrUnknownBlock, got %v", err)
	}
}

func TestBeginCommitIsIdempotent(t *testing.T) {
	f := NewFacade(func(string) bool { return true }, nil, nil)
	inFlight, err := f.BeginCommit("b1")
	if err != nil || inFlight {
		t.Fatalf("first BeginCommit should succeed fresh: inFlight=%v err=%v", inFlight, err)
	}
	inFlight, err = f.BeginCommit("b1")
	if err != nil || !inFlight {
		t.Fatalf("second BeginCommit on the same id should report already in flight, got inFlight=%v err=%v", inFlight, err)
	}
	f.EndCommit("b1")
	inFlight, err = f.BeginCommit("b1")
	if err != nil || inFlight {
		t.Fatalf("after EndCommit, BeginCommit should succeed fresh again: inFlight=%v err=%v", inFlight, err)
	}
}

type recordingTransport struct {
	mu  sync.Mutex
	got []Notification
	wg  *sync.WaitGroup
}

func (r *recordingTransport) Send(connID uuid.UUID, n Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	r.wg.Done()
	return nil
}

func TestFacadeDeliversQueuedNotifications(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	transport := &recordingTransport{wg: &wg}
	f := NewFacade(func(string) bool { return true }, transport, nil)
	f.Start()
	defer f.Stop()

	f.Notify(Notification{Kind: KindBlockValid, BlockID: "b1"})
	f.Notify(Notification{Kind: KindBlockInvalid, BlockID: "b2"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification delivery")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.got) != 2 {
		t.Fatalf("want 2 delivered notifications, got %d", len(transport.got))
	}
	if transport.got[0].BlockID != "b1" || transport.got[1].BlockID != "b2" {
		t.Fatalf("notifications should deliver in FIFO order, got %+v", transport.got)
	}
}

func TestTCPTransportRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	transport := NewTCPTransport()
	connID := uuid.New()
	transport.Register(connID, server)

	errc := make(chan error, 1)
	go func() { errc <- transport.Send(connID, Notification{Kind: KindBlockCommit, BlockID: "b1"}) }()

	env, err := EncodeNotification(Notification{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ReadDelimited(client, env); err != nil {
		t.Fatalf("read delimited: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := env.Fields["block_id"].GetStringValue(); got != "b1" {
		t.Fatalf("want block_id=b1, got %q", got)
	}
}
