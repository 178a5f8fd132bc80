package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/authz"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
)

// Close codes in the 4000 range are application-defined. Not-found and
// not-visible share a code so existence does not leak to unauthorized
// callers.
const (
	CloseError       = 4000
	CloseAuthFailure = 4001
	CloseNotFound    = 4004
)

// DefaultStatusPoll is how often a status socket samples the range.
const DefaultStatusPoll = 2 * time.Second

const writeWait = 10 * time.Second

// Authenticator resolves a bearer token to a user. Token issuance and
// refresh live outside this service; tests inject a fake.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Server multiplexes interactive sessions over websockets: container
// consoles, VNC desktop proxying and coalesced range status feeds.
type Server struct {
	Log *logrus.Entry

	repo    store.Repository
	runtime runtime.ContainerRuntime
	authz   *authz.Filter
	auth    Authenticator

	routingNetwork string
	statusPoll     time.Duration

	upgrader websocket.Upgrader
	// dialVNC is swappable so tests can point the proxy at a local
	// server instead of a container address.
	dialVNC func(ctx context.Context, url string) (*websocket.Conn, error)
}

func NewServer(log *logrus.Entry, repo store.Repository, rt runtime.ContainerRuntime, auth Authenticator, routingNetwork string, statusPoll time.Duration) *Server {
	if statusPoll <= 0 {
		statusPoll = DefaultStatusPoll
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"binary"},
	}
	return &Server{
		Log:            log,
		repo:           repo,
		runtime:        rt,
		authz:          authz.NewFilter(log),
		auth:           auth,
		routingNetwork: routingNetwork,
		statusPoll:     statusPoll,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialVNC: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, resp, err := dialer.DialContext(ctx, url, nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return conn, err
		},
	}
}

// Router builds the HTTP surface: a liveness probe plus the three
// websocket endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws/console/{vm_id}", s.handleConsole).Methods(http.MethodGet)
	r.HandleFunc("/ws/vnc/{vm_id}", s.handleVNC).Methods(http.MethodGet)
	r.HandleFunc("/ws/status/{range_id}", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "app": "cyroid"}); err != nil {
		s.Log.WithError(err).Debug("failed to write health response")
	}
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.Log.WithError(err).Debug("failed to write close frame")
	}
	conn.Close()
}

// authenticate resolves ?token= through the injected authenticator,
// closing the socket with an auth failure when it does not resolve to a
// user who may act.
func (s *Server) authenticate(r *http.Request, conn *websocket.Conn) (*models.User, bool) {
	token := r.URL.Query().Get("token")
	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil || !user.MayAct() {
		s.closeWith(conn, CloseAuthFailure, "invalid token")
		return nil, false
	}
	return user, true
}

// resolveVM authenticates the socket and loads the VM, enforcing range
// visibility. Missing and invisible VMs close identically.
func (s *Server) resolveVM(r *http.Request, conn *websocket.Conn) (*models.VM, bool) {
	user, ok := s.authenticate(r, conn)
	if !ok {
		return nil, false
	}
	vm, err := s.repo.GetVM(r.Context(), mux.Vars(r)["vm_id"])
	if err != nil || !s.rangeVisible(r.Context(), user, vm.RangeID) {
		s.closeWith(conn, CloseNotFound, "VM not found")
		return nil, false
	}
	return vm, true
}

func (s *Server) rangeVisible(ctx context.Context, user *models.User, rangeID string) bool {
	rng, err := s.repo.GetRange(ctx, rangeID)
	if err != nil {
		return false
	}
	tags, err := s.repo.TagsFor(ctx, models.KindRange, rng.ID)
	if err != nil {
		return false
	}
	return s.authz.CheckAccess(user, models.KindRange, rng.ID, rng.OwnerID, tags) == nil
}
