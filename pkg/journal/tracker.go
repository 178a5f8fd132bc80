package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/store"
)

// ConnectionTracker stores network flows reported by an external probe.
// The probe only sees IP pairs; the tracker resolves them to VM ids at
// write time, while the addresses are still assigned.
type ConnectionTracker struct {
	Log     *logrus.Entry
	repo    store.Repository
	journal *Journal
}

func NewConnectionTracker(log *logrus.Entry, repo store.Repository, j *Journal) *ConnectionTracker {
	return &ConnectionTracker{Log: log, repo: repo, journal: j}
}

// Observe upserts one flow record. A flow without an id is a new
// observation; a flow carrying an id updates the earlier record (byte
// counts, state). State transitions into a terminal state journal
// CONNECTION_CLOSED; new established flows journal CONNECTION_ESTABLISHED.
func (t *ConnectionTracker) Observe(ctx context.Context, flow *models.Connection) error {
	if flow.RangeID == "" {
		return models.Validationf("flow is missing a range id")
	}
	if err := t.resolveVMIDs(ctx, flow); err != nil {
		return err
	}

	if flow.ID == "" {
		if err := t.repo.CreateConnection(ctx, flow); err != nil {
			return err
		}
		if flow.State == models.ConnEstablished {
			t.journal.Record(ctx, flow.RangeID, flow.SrcVMID, models.EventConnectionEstablished, describeFlow(flow), flowExtra(flow))
		} else {
			// The probe can report an already-finished flow in one shot.
			t.closeFlow(ctx, flow)
		}
		return nil
	}

	prev, err := t.repo.GetConnection(ctx, flow.ID)
	if err != nil {
		return err
	}
	if prev.State == models.ConnEstablished && flow.State != models.ConnEstablished {
		t.closeFlow(ctx, flow)
	}
	return t.repo.UpdateConnection(ctx, flow)
}

func (t *ConnectionTracker) closeFlow(ctx context.Context, flow *models.Connection) {
	if flow.EndAt == nil {
		now := time.Now()
		flow.EndAt = &now
	}
	t.journal.Record(ctx, flow.RangeID, flow.SrcVMID, models.EventConnectionClosed, describeFlow(flow), flowExtra(flow))
}

// ListByRange returns every recorded flow for a range, newest first.
func (t *ConnectionTracker) ListByRange(ctx context.Context, rangeID string) ([]*models.Connection, error) {
	return t.repo.ConnectionsByRange(ctx, rangeID)
}

// ActiveForVM returns established flows in which the VM is either endpoint.
func (t *ConnectionTracker) ActiveForVM(ctx context.Context, rangeID, vmID string) ([]*models.Connection, error) {
	all, err := t.repo.ConnectionsByRange(ctx, rangeID)
	if err != nil {
		return nil, err
	}
	out := []*models.Connection{}
	for _, c := range all {
		if c.State == models.ConnEstablished && (c.SrcVMID == vmID || c.DstVMID == vmID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *ConnectionTracker) resolveVMIDs(ctx context.Context, flow *models.Connection) error {
	vms, err := t.repo.VMsByRange(ctx, flow.RangeID)
	if err != nil {
		return err
	}
	byIP := map[string]string{}
	for _, vm := range vms {
		if vm.IPAddress != "" {
			byIP[vm.IPAddress] = vm.ID
		}
	}
	if flow.SrcVMID == "" {
		flow.SrcVMID = byIP[flow.SrcIP]
	}
	if flow.DstVMID == "" {
		flow.DstVMID = byIP[flow.DstIP]
	}
	return nil
}

func describeFlow(c *models.Connection) string {
	if c.Protocol == models.ProtoICMP {
		return fmt.Sprintf("icmp %s -> %s", c.SrcIP, c.DstIP)
	}
	return fmt.Sprintf("%s %s:%d -> %s:%d", c.Protocol, c.SrcIP, c.SrcPort, c.DstIP, c.DstPort)
}

func flowExtra(c *models.Connection) map[string]string {
	extra := map[string]string{
		"protocol": string(c.Protocol),
		"state":    string(c.State),
		"src_ip":   c.SrcIP,
		"dst_ip":   c.DstIP,
	}
	if c.DstVMID != "" {
		extra["dst_vm_id"] = c.DstVMID
	}
	return extra
}
