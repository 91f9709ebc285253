package stream_test

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/doatrack/pkg/stream"
)

// collectSink gathers every payload the listener delivers.
type collectSink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *collectSink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := make([]byte, len(data))
	copy(p, data)
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestListenerDeliversPayloads(t *testing.T) {
	sink := &collectSink{}
	l, err := stream.Listen("127.0.0.1:0", sink)
	if err != nil {
		t.Fatalf("Listen: unexpected error: %v", err)
	}
	defer func() { _ = l.Close() }()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: unexpected error: %v", err)
	}
	defer func() { _ = conn.Close() }()

	want := [][]byte{
		bytes.Repeat([]byte{0x01}, 2048),
		bytes.Repeat([]byte{0x02}, 2048),
		bytes.Repeat([]byte{0x03}, 512),
	}
	for i, p := range want {
		if _, err := conn.Write(p); err != nil {
			t.Fatalf("send %d: unexpected error: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != len(want) {
		t.Fatalf("delivered %d payloads, want %d", sink.count(), len(want))
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, p := range sink.payloads {
		if !bytes.Equal(p, want[i]) {
			t.Errorf("payload %d mismatch: %d bytes", i, len(p))
		}
	}
}

func TestListenerNilSink(t *testing.T) {
	if _, err := stream.Listen("127.0.0.1:0", nil); err == nil {
		t.Fatalf("Listen(nil sink): expected error")
	}
}

func TestListenerClose(t *testing.T) {
	sink := &collectSink{}
	l, err := stream.Listen("127.0.0.1:0", sink)
	if err != nil {
		t.Fatalf("Listen: unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return; receive loop stuck")
	}
}
