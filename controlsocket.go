package pfresolved

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// ControlServer listens on a Unix socket for pfresolvectl's log/reload/hints
// verbs, the Go counterpart to pfresolved.c's control.c imsg listener.
// Unlike the original's imsg framing, commands are newline-delimited text:
// there is no untrusted remote peer on the other end of a 0600 Unix socket,
// so the simpler line protocol is enough.
type ControlServer struct {
	ctrl     *Controller
	listener net.Listener
}

// NewControlServer removes any stale socket file at path and starts
// listening on it. The original unlinks PFRESOLVED_SOCKET before bind(2)
// for the same reason: a previous instance's socket left over from an
// unclean shutdown must not block startup.
func NewControlServer(path string, ctrl *Controller) (*ControlServer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale control socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on control socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod control socket: %w", err)
	}
	return &ControlServer{ctrl: ctrl, listener: l}, nil
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *ControlServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting control connection: %w", err)
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections. The Unix listener created by
// net.Listen also removes the socket file when it is closed; a file left
// behind by an unclean exit is removed by the next NewControlServer call.
func (s *ControlServer) Close() error {
	return s.listener.Close()
}

func (s *ControlServer) handle(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	reply := s.dispatch(strings.TrimSpace(line))
	fmt.Fprintln(conn, reply)
}

// dispatch runs one control command and returns the response line sent
// back to pfresolvectl. Supported verbs mirror parser.c's t_main table:
// "log <level>", "reload", "hints".
func (s *ControlServer) dispatch(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "error: empty command"
	}

	switch fields[0] {
	case "log":
		if len(fields) != 2 {
			return "error: usage: log <level>"
		}
		level, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Sprintf("error: invalid log level %q", fields[1])
		}
		Log.SetLevel(verbosity(level))
		Log.WithField("component", "control").Infof("log level changed to %d via control socket", level)
		return "ok"
	case "reload":
		if err := s.ctrl.Reload(); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "ok"
	case "hints":
		s.ctrl.writeHints()
		return "ok"
	default:
		return fmt.Sprintf("error: unknown command %q", fields[0])
	}
}
