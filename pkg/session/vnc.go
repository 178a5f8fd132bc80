package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
)

// vncPort is where the qemu and dockur wrapper images expose websockify.
const vncPort = 8006

// VNCDetails tells a frontend where the edge proxy exposes a VM's
// desktop. The path matches the vnc router labels the provisioner
// stamps on the container.
type VNCDetails struct {
	VMID        string `json:"vm_id"`
	Hostname    string `json:"hostname"`
	Path        string `json:"path"`
	TraefikPort int    `json:"traefik_port"`
}

// VNCInfo builds the edge-proxy link for a desktop VM.
func (s *Server) VNCInfo(ctx context.Context, vmID string) (*VNCDetails, error) {
	vm, err := s.repo.GetVM(ctx, vmID)
	if err != nil {
		return nil, err
	}
	if vm.Status != models.VMRunning {
		return nil, models.Conflictf("VM %q is not running (status: %s)", vm.Hostname, vm.Status)
	}
	if vm.Handle == "" {
		return nil, models.Conflictf("VM %q has no running container", vm.Hostname)
	}
	if !vm.Desktop() {
		return nil, models.Validationf("VM %q is in server mode (no VNC console available)", vm.Hostname)
	}
	return &VNCDetails{
		VMID:        vm.ID,
		Hostname:    vm.Hostname,
		Path:        "/vnc/" + vm.ID,
		TraefikPort: 80,
	}, nil
}

func (s *Server) handleVNC(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Debug("vnc upgrade failed")
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
	if !vm.Desktop() {
		s.closeWith(conn, CloseError, "VM is in server mode (no VNC console available)")
		return
	}

	ip, err := s.containerIP(r.Context(), vm.Handle)
	if err != nil {
		s.closeWith(conn, CloseError, "could not determine container address")
		return
	}
	target := fmt.Sprintf("ws://%s:%d/websockify", ip, vncPort)
	vnc, err := s.dialVNC(r.Context(), target)
	if err != nil {
		s.closeWith(conn, CloseError, fmt.Sprintf("VNC connection failed: %v", err))
		return
	}

	s.Log.WithFields(logrus.Fields{"vm": vm.Hostname, "target": target}).Info("VNC proxy established")
	s.pumpVNC(conn, vnc)
	s.Log.WithField("vm", vm.Hostname).Info("VNC proxy closed")
}

// containerIP prefers the routing network address, the one the daemon
// can always reach, and falls back to any attached network.
func (s *Server) containerIP(ctx context.Context, handle string) (string, error) {
	info, err := s.runtime.InspectContainer(ctx, handle)
	if err != nil {
		return "", err
	}
	if ip := info.IPs[s.routingNetwork]; ip != "" {
		return ip, nil
	}
	for _, ip := range info.IPs {
		if ip != "" {
			return ip, nil
		}
	}
	return "", models.Conflictf("container %s has no address", handle)
}

// pumpVNC copies frames both ways until either side fails; the first
// failure closes both. Client traffic is always binary, the upstream may
// interleave text. noVNC handles its own keepalive, so no pings are
// injected.
func (s *Server) pumpVNC(client, vnc *websocket.Conn) {
	var once sync.Once
	stop := func() {
		once.Do(func() {
			vnc.Close()
			client.Close()
		})
	}

	go func() {
		defer stop()
		for {
			_, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			if err := vnc.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}()

	defer stop()
	for {
		msgType, data, err := vnc.ReadMessage()
		if err != nil {
			return
		}
		if err := client.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
