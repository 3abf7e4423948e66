package agent

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"
)

// socketServer owns the Unix-domain listener described in spec.md §4.4/§6:
// one command per connection, no framing, client half-closes its write
// side to signal end-of-request, server writes one JSON response and
// closes.
type socketServer struct {
	path     string
	listener net.Listener
	log      zerolog.Logger
	agent    *Agent
}

func newSocketServer(a *Agent) *socketServer {
	return &socketServer{
		path:  a.cfg.SocketPath,
		log:   a.log.With().Str("component", "socket").Logger(),
		agent: a,
	}
}

// listen creates the socket with the mode spec.md §4.4 requires (0o660).
// Any stale socket file at the same path is removed first, matching the
// orchestrator's ownership of rundir's contents.
func (s *socketServer) listen() error {
	_ = os.Remove(s.path)
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o660); err != nil {
		l.Close()
		return err
	}
	s.listener = l
	return nil
}

// serve accepts connections until the listener is closed (by close(), at
// shutdown). Each connection is handled in its own goroutine, per spec.md
// §5 ("concurrent client connections are handled by spawning one task per
// accepted connection").
func (s *socketServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed; normal shutdown path
		}
		go s.handleConn(conn)
	}
}

func (s *socketServer) close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

const maxRequestBytes = 64 * 1024

func (s *socketServer) handleConn(conn net.Conn) {
	defer conn.Close()

	buf, err := io.ReadAll(io.LimitReader(conn, maxRequestBytes+1))
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read client request")
		return
	}
	if len(buf) > maxRequestBytes {
		s.log.Warn().Msg("client request exceeded size limit; closing without response")
		return
	}

	cmd := string(buf)
	ctx := context.Background()

	var resp interface{}
	switch cmd {
	case "status":
		resp = s.agent.Status()
	case "epilog":
		resp = s.agent.Epilog(ctx)
	case "version":
		resp = s.agent.Version()
	default:
		s.log.Warn().Str("command", cmd).Msg("invalid client request; closing without response")
		return
	}

	body, err := marshalResponse(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal response")
		return
	}
	if _, err := conn.Write(body); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}
