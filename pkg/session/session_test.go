package session

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
	"github.com/cyroid/cyroid/pkg/utils"
)

type fakeAuth struct{ users map[string]*models.User }

func (f *fakeAuth) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, models.Forbiddenf("unknown token")
}

type wsEnv struct {
	srv  *Server
	repo store.Repository
	rt   *runtime.FakeRuntime
	http *httptest.Server

	// Shell ends of console execs, published by the fake runtime as
	// handlers attach. Buffered so the handler never blocks on us.
	consoles chan net.Conn
	argvs    chan []string
}

// newWSEnv builds a server around fakes. Mutators run before the test
// server starts so handler goroutines only ever see the final fields.
func newWSEnv(t *testing.T, mutate ...func(*Server)) *wsEnv {
	t.Helper()
	env := &wsEnv{
		repo:     store.NewMemory(),
		rt:       runtime.NewFakeRuntime(),
		consoles: make(chan net.Conn, 4),
		argvs:    make(chan []string, 4),
	}
	env.rt.ConsoleFn = func(handle string, argv []string) (io.ReadWriteCloser, error) {
		local, peer := net.Pipe()
		env.consoles <- peer
		env.argvs <- argv
		return local, nil
	}
	auth := &fakeAuth{users: map[string]*models.User{
		"admin-token":  {ID: "admin", Username: "root", Roles: []string{models.RoleAdmin}, Approved: true, Active: true},
		"blue-token":   {ID: "user-blue", Username: "blue", Approved: true, Active: true},
		"locked-token": {ID: "user-locked", Username: "locked", Approved: false, Active: false},
	}}
	env.srv = NewServer(utils.NewDummyLog(), env.repo, env.rt, auth, "cyroid-routing", 20*time.Millisecond)
	for _, m := range mutate {
		m(env.srv)
	}
	env.http = httptest.NewServer(env.srv.Router())
	t.Cleanup(env.http.Close)
	return env
}

// consolePeer waits for the next console attach and returns its shell end.
func (env *wsEnv) consolePeer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case peer := <-env.consoles:
		t.Cleanup(func() { peer.Close() })
		return peer
	case <-time.After(2 * time.Second):
		t.Fatal("console exec was never started")
		return nil
	}
}

func (env *wsEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readClose drains the connection until the server's close frame
// arrives and returns its code and reason.
func readClose(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if assert.ErrorAs(t, err, &closeErr) {
				return closeErr.Code, closeErr.Text
			}
			return 0, ""
		}
	}
}

// seedSessionVM wires a running VM with a live fake container so the
// websocket handlers have something to attach to.
func seedSessionVM(t *testing.T, env *wsEnv, ownerID string) (*models.Range, *models.VM) {
	t.Helper()
	ctx := context.Background()
	rng := &models.Range{Name: "ws-lab", OwnerID: ownerID, Status: models.RangeRunning}
	assert.NoError(t, env.repo.CreateRange(ctx, rng))
	network := &models.Network{RangeID: rng.ID, Name: "lan", CIDR: "10.7.0.0/24", Gateway: "10.7.0.1", Handle: "net-lan"}
	assert.NoError(t, env.repo.CreateNetwork(ctx, network))

	handle, err := env.rt.CreateContainer(ctx, runtime.ContainerSpec{
		Name:           "cyroid-target",
		Image:          "nginx:alpine",
		RoutingNetwork: "cyroid-routing",
		NetworkHandle:  "net-lan",
		StaticIP:       "10.7.0.10",
	})
	assert.NoError(t, err)
	assert.NoError(t, env.rt.StartContainer(ctx, handle))

	vm := &models.VM{
		RangeID:   rng.ID,
		NetworkID: network.ID,
		Hostname:  "target",
		IPAddress: "10.7.0.10",
		Status:    models.VMRunning,
		Handle:    handle,
	}
	assert.NoError(t, env.repo.CreateVM(ctx, vm))
	return rng, vm
}

func TestHealth(t *testing.T) {
	env := newWSEnv(t)

	resp, err := http.Get(env.http.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "cyroid", body["app"])
}

func TestBadTokenClosesWithAuthFailure(t *testing.T) {
	env := newWSEnv(t)
	_, vm := seedSessionVM(t, env, "admin")

	conn := env.dial(t, "/ws/console/"+vm.ID+"?token=wrong")
	code, reason := readClose(t, conn)
	assert.Equal(t, CloseAuthFailure, code)
	assert.Equal(t, "invalid token", reason)
}

func TestLockedUserClosesWithAuthFailure(t *testing.T) {
	env := newWSEnv(t)
	_, vm := seedSessionVM(t, env, "admin")

	conn := env.dial(t, "/ws/console/"+vm.ID+"?token=locked-token")
	code, _ := readClose(t, conn)
	assert.Equal(t, CloseAuthFailure, code)
}

func TestUnknownVMClosesWithNotFound(t *testing.T) {
	env := newWSEnv(t)

	conn := env.dial(t, "/ws/console/no-such-vm?token=admin-token")
	code, reason := readClose(t, conn)
	assert.Equal(t, CloseNotFound, code)
	assert.Equal(t, "VM not found", reason)
}

// A VM on a tagged range the caller cannot see closes exactly like a
// missing one.
func TestInvisibleVMClosesWithNotFound(t *testing.T) {
	env := newWSEnv(t)
	rng, vm := seedSessionVM(t, env, "someone-else")
	ctx := context.Background()
	assert.NoError(t, env.repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: rng.ID, Tag: "red-team"}))

	conn := env.dial(t, "/ws/console/"+vm.ID+"?token=blue-token")
	code, reason := readClose(t, conn)
	assert.Equal(t, CloseNotFound, code)
	assert.Equal(t, "VM not found", reason)
}

func TestOwnerSeesOwnTaggedRange(t *testing.T) {
	env := newWSEnv(t)
	rng, vm := seedSessionVM(t, env, "user-blue")
	ctx := context.Background()
	assert.NoError(t, env.repo.AddTag(ctx, &models.ResourceTag{Kind: models.KindRange, ResourceID: rng.ID, Tag: "red-team"}))

	conn := env.dial(t, "/ws/console/"+vm.ID+"?token=blue-token")
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// The console opens: the shell side answers, no close frame.
	peer := env.consolePeer(t)
	_, err := peer.Write([]byte("$ "))
	assert.NoError(t, err)
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, "$ ", string(data))
}
