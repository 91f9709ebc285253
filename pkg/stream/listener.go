// Package stream receives interleaved stereo PCM over UDP, so an embedded
// device can forward its microphone feed to a host running the DOA
// pipeline.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/NicolasHaas/doatrack/pkg/doa"
)

// maxDatagram bounds a single PCM datagram. One pipeline frame is 2048
// bytes; senders may batch a few frames per packet.
const maxDatagram = 8192

// Sink consumes the received PCM bytes. *doa.Pipeline satisfies it.
type Sink interface {
	Write(data []byte) error
}

// Listener reads PCM datagrams from a UDP socket and appends each payload
// to the sink. Packets that do not fit the sink's queue are dropped; UDP
// callers get no delivery guarantee anyway.
type Listener struct {
	conn *net.UDPConn
	sink Sink
	done chan struct{}
}

// Listen binds addr (e.g. ":4950") and starts the receive loop.
func Listen(addr string, sink Sink) (*Listener, error) {
	if sink == nil {
		return nil, fmt.Errorf("stream: nil sink")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("stream: listen: %w", err)
	}
	_ = conn.SetReadBuffer(512 * 1024)

	l := &Listener{
		conn: conn,
		sink: sink,
		done: make(chan struct{}),
	}
	go l.receiveLoop()

	slog.Info("PCM stream listener started", "addr", conn.LocalAddr())
	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Listener) receiveLoop() {
	defer close(l.done)
	buf := make([]byte, maxDatagram)

	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			// Closed socket ends the loop; anything else is transient.
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("stream read error", "err", err)
			continue
		}
		if n == 0 {
			continue
		}

		if err := l.sink.Write(buf[:n]); err != nil {
			if errors.Is(err, doa.ErrClosed) {
				return
			}
			// Queue pressure: drop the datagram and keep receiving.
			slog.Debug("stream payload dropped", "bytes", n, "err", err)
		}
	}
}

// Close shuts the socket down and waits for the receive loop to exit.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}
