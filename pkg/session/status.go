package session

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/cyroid/cyroid/pkg/models"
)

// StatusUpdate is one coalesced range snapshot pushed to status
// subscribers. VMs maps VM id to status.
type StatusUpdate struct {
	Type        string                     `json:"type"`
	RangeID     string                     `json:"range_id"`
	RangeStatus models.RangeStatus         `json:"range_status"`
	VMs         map[string]models.VMStatus `json:"vms"`
}

func (u *StatusUpdate) equal(prev *StatusUpdate) bool {
	return prev != nil && u.RangeStatus == prev.RangeStatus && maps.Equal(u.VMs, prev.VMs)
}

// handleStatus polls the range and pushes a snapshot whenever it
// differs from the last one sent. The first snapshot goes out
// immediately so a fresh subscriber never stares at nothing.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Debug("status upgrade failed")
		return
	}
	defer conn.Close()

	user, ok := s.authenticate(r, conn)
	if !ok {
		return
	}
	rangeID := mux.Vars(r)["range_id"]
	if !s.rangeVisible(r.Context(), user, rangeID) {
		s.closeWith(conn, CloseNotFound, "Range not found")
		return
	}

	// The client never sends data; its read pump only notices the
	// disconnect and stops the poller.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var writeMu sync.Mutex
	ticker := time.NewTicker(s.statusPoll)
	defer ticker.Stop()

	var last *StatusUpdate
	for {
		update, err := s.sampleStatus(ctx, rangeID)
		if err != nil {
			s.closeWith(conn, CloseError, "status sampling failed")
			return
		}
		if !update.equal(last) {
			writeMu.Lock()
			err := conn.WriteJSON(update)
			writeMu.Unlock()
			if err != nil {
				return
			}
			last = update
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sampleStatus(ctx context.Context, rangeID string) (*StatusUpdate, error) {
	rng, err := s.repo.GetRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	vms, err := s.repo.VMsByRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	update := &StatusUpdate{
		Type:        "status_update",
		RangeID:     rangeID,
		RangeStatus: rng.Status,
		VMs:         make(map[string]models.VMStatus, len(vms)),
	}
	for _, vm := range vms {
		update.VMs[vm.ID] = vm.Status
	}
	return update, nil
}
