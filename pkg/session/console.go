package session

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// consoleShell prefers bash when the image carries it and falls back to
// sh. Exec keeps the session from leaving a zombie shell behind.
var consoleShell = []string{"/bin/sh", "-c", "if [ -x /bin/bash ]; then exec /bin/bash; else exec /bin/sh; fi"}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Debug("console upgrade failed")
		return
	}
	defer conn.Close()

	vm, ok := s.resolveVM(r, conn)
	if !ok {
		return
	}
	if vm.Handle == "" {
		s.closeWith(conn, CloseError, "VM has no running container")
		return
	}
	console, err := s.runtime.ExecInteractive(r.Context(), vm.Handle, consoleShell)
	if err != nil {
		s.closeWith(conn, CloseError, fmt.Sprintf("console exec failed: %v", err))
		return
	}

	s.Log.WithField("vm", vm.Hostname).Info("console session opened")
	s.pumpConsole(conn, console)
	s.Log.WithField("vm", vm.Hostname).Info("console session closed")
}

// pumpConsole joins the exec stream and the websocket. Either pump's
// error or EOF closes both ends, which unblocks the other pump. The
// exec itself is left to the engine once the shell exits.
func (s *Server) pumpConsole(conn *websocket.Conn, console io.ReadWriteCloser) {
	var once sync.Once
	stop := func() {
		once.Do(func() {
			console.Close()
			conn.Close()
		})
	}

	go func() {
		defer stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if _, err := console.Write(data); err != nil {
				return
			}
		}
	}()

	defer stop()
	buf := make([]byte, 4096)
	for {
		n, err := console.Read(buf)
		if n > 0 {
			if data := stripStreamHeader(buf[:n]); len(data) > 0 {
				if werr := conn.WriteMessage(websocket.TextMessage, data); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// stripStreamHeader drops the 8-byte multiplex header docker prepends
// to attach frames without a TTY. Podman attach and TTY execs are raw,
// so the header is detected per frame rather than assumed.
func stripStreamHeader(data []byte) []byte {
	if len(data) > 8 && data[0] <= 2 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
		return data[8:]
	}
	return data
}
