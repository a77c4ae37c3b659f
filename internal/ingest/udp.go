package ingest

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/packet"
)

// UDPServer runs the datagram receive loop. One goroutine reads from the
// socket and hands every datagram to the dispatcher; it never touches
// disk itself. ACKs are written back to the datagram's source address
// from the same socket, best-effort.
type UDPServer struct {
	conn *net.UDPConn
	disp *Dispatcher
	log  zerolog.Logger
}

// NewUDPServer binds the ingest socket.
func NewUDPServer(port int, disp *Dispatcher) (*UDPServer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &UDPServer{conn: conn, disp: disp, log: *logger.Ingest()}, nil
}

// Addr returns the bound address (useful when port 0 was requested).
func (s *UDPServer) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads datagrams until the context is cancelled or the socket is
// closed.
func (s *UDPServer) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	// One spare byte past the packet bound lets the validator reject
	// oversized datagrams instead of silently truncating them.
	buf := make([]byte, packet.MaxPacketSize+1)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("udp read failed")
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		reply := func(ack []byte) {
			// Best-effort: no retry, no blocking the caller on errors.
			s.conn.WriteToUDP(ack, addr)
		}
		s.disp.Enqueue(raw, addr.IP.String(), reply)
	}
}

// Close releases the socket.
func (s *UDPServer) Close() error { return s.conn.Close() }
