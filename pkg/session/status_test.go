package session

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
)

func readStatus(t *testing.T, conn *websocket.Conn) StatusUpdate {
	t.Helper()
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var update StatusUpdate
	assert.NoError(t, conn.ReadJSON(&update))
	return update
}

func TestStatusStreamsOnChange(t *testing.T) {
	env := newWSEnv(t)
	rng, vm := seedSessionVM(t, env, "admin")
	ctx := context.Background()

	conn := env.dial(t, "/ws/status/"+rng.ID+"?token=admin-token")

	// The first snapshot arrives without waiting for a change.
	first := readStatus(t, conn)
	assert.Equal(t, "status_update", first.Type)
	assert.Equal(t, rng.ID, first.RangeID)
	assert.Equal(t, models.RangeRunning, first.RangeStatus)
	assert.Equal(t, map[string]models.VMStatus{vm.ID: models.VMRunning}, first.VMs)

	// A VM status flip is pushed on the next poll.
	vm.Status = models.VMStopped
	assert.NoError(t, env.repo.UpdateVM(ctx, vm))
	second := readStatus(t, conn)
	assert.Equal(t, models.VMStopped, second.VMs[vm.ID])
	assert.Equal(t, models.RangeRunning, second.RangeStatus)

	// So is a range status flip with an unchanged VM map.
	rng.Status = models.RangeStopped
	assert.NoError(t, env.repo.UpdateRange(ctx, rng))
	third := readStatus(t, conn)
	assert.Equal(t, models.RangeStopped, third.RangeStatus)
	assert.Equal(t, second.VMs, third.VMs)
}

func TestStatusUnknownRangeClosesWithNotFound(t *testing.T) {
	env := newWSEnv(t)

	conn := env.dial(t, "/ws/status/no-such-range?token=admin-token")
	code, reason := readClose(t, conn)
	assert.Equal(t, CloseNotFound, code)
	assert.Equal(t, "Range not found", reason)
}

func TestStatusRequiresToken(t *testing.T) {
	env := newWSEnv(t)
	rng, _ := seedSessionVM(t, env, "admin")

	conn := env.dial(t, "/ws/status/"+rng.ID)
	code, _ := readClose(t, conn)
	assert.Equal(t, CloseAuthFailure, code)
}
