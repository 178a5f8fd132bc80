package msel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyroid/cyroid/pkg/authz"
	"github.com/cyroid/cyroid/pkg/journal"
	"github.com/cyroid/cyroid/pkg/models"
	"github.com/cyroid/cyroid/pkg/runtime"
	"github.com/cyroid/cyroid/pkg/store"
)

// ArtifactPlacer copies a stored artifact into a VM's filesystem. The
// artifact store implements it; tests substitute a fake.
type ArtifactPlacer interface {
	PlaceByFilename(ctx context.Context, filename string, vm *models.VM, targetPath string) error
}

// Engine imports timeline documents and executes their injects against
// the VMs of a range. Execution is always user-triggered; TimeMinutes is
// stored so a scheduler can be layered on later.
type Engine struct {
	Log     *logrus.Entry
	repo    store.Repository
	runtime runtime.ContainerRuntime
	authz   *authz.Filter
	journal *journal.Journal
	placer  ArtifactPlacer
}

func NewEngine(log *logrus.Entry, repo store.Repository, rt runtime.ContainerRuntime, az *authz.Filter, jnl *journal.Journal, placer ArtifactPlacer) *Engine {
	return &Engine{
		Log:     log,
		repo:    repo,
		runtime: rt,
		authz:   az,
		journal: jnl,
		placer:  placer,
	}
}

// Import parses a timeline document and stores it on the range, replacing
// any previous document and its injects in one swap.
func (e *Engine) Import(ctx context.Context, rangeID, name, text string, principal *models.User) (*models.MSEL, []*models.Inject, error) {
	rng, err := e.repo.GetRange(ctx, rangeID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.authz.CheckWrite(principal, models.KindRange, rng.ID, rng.OwnerID); err != nil {
		return nil, nil, err
	}

	injects, err := Parse(text)
	if err != nil {
		return nil, nil, err
	}

	m := &models.MSEL{RangeID: rangeID, Name: name, RawText: text}
	if err := e.repo.ReplaceMSEL(ctx, m, injects); err != nil {
		return nil, nil, err
	}

	e.Log.WithFields(logrus.Fields{
		"range":   rangeID,
		"msel":    m.ID,
		"injects": len(injects),
	}).Info("timeline imported")
	return m, injects, nil
}

// Timeline returns the range's document and its injects in sequence order.
func (e *Engine) Timeline(ctx context.Context, rangeID string, principal *models.User) (*models.MSEL, []*models.Inject, error) {
	rng, err := e.repo.GetRange(ctx, rangeID)
	if err != nil {
		return nil, nil, err
	}
	tags, err := e.repo.TagsFor(ctx, models.KindRange, rng.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.authz.CheckAccess(principal, models.KindRange, rng.ID, rng.OwnerID, tags); err != nil {
		return nil, nil, err
	}

	m, err := e.repo.MSELByRange(ctx, rangeID)
	if err != nil {
		return nil, nil, err
	}
	injects, err := e.repo.InjectsByMSEL(ctx, m.ID)
	if err != nil {
		return nil, nil, err
	}
	return m, injects, nil
}

// Delete removes the range's document and its injects.
func (e *Engine) Delete(ctx context.Context, rangeID string, principal *models.User) error {
	rng, err := e.repo.GetRange(ctx, rangeID)
	if err != nil {
		return err
	}
	if err := e.authz.CheckWrite(principal, models.KindRange, rng.ID, rng.OwnerID); err != nil {
		return err
	}
	return e.repo.DeleteMSEL(ctx, rangeID)
}

// ExecuteInject runs one Pending inject's actions in order against the
// range's VMs. A failed action is recorded and the remaining actions
// still run; the inject ends Completed only if every action succeeded.
func (e *Engine) ExecuteInject(ctx context.Context, injectID string, principal *models.User) (*models.Inject, error) {
	inj, rng, err := e.resolve(ctx, injectID, principal)
	if err != nil {
		return nil, err
	}
	if inj.Status != models.InjectPending {
		return nil, models.Conflictf("inject %q is %s, only pending injects execute", inj.Title, inj.Status)
	}

	vms, err := e.repo.VMsByRange(ctx, rng.ID)
	if err != nil {
		return nil, err
	}
	byHostname := make(map[string]*models.VM, len(vms))
	for _, vm := range vms {
		byHostname[vm.Hostname] = vm
	}

	now := time.Now()
	inj.Status = models.InjectExecuting
	inj.ExecutedAt = &now
	if err := e.repo.UpdateInject(ctx, inj); err != nil {
		return nil, err
	}

	var log strings.Builder
	failed := 0
	for i, action := range inj.Actions {
		fmt.Fprintf(&log, "%d. ", i+1)
		if err := e.runAction(ctx, action, byHostname, &log); err != nil {
			failed++
			fmt.Fprintf(&log, "FAILED: %v\n", err)
			e.Log.WithError(err).WithFields(logrus.Fields{
				"inject": inj.ID,
				"action": action.Kind,
				"target": action.TargetHostname,
			}).Error("inject action failed")
		}
	}

	if failed == 0 {
		inj.Status = models.InjectCompleted
	} else {
		inj.Status = models.InjectFailed
	}
	inj.Log = log.String()
	if err := e.repo.UpdateInject(ctx, inj); err != nil {
		return nil, err
	}

	kind := models.EventInjectExecuted
	msg := fmt.Sprintf("inject %d %q executed", inj.Sequence, inj.Title)
	if failed > 0 {
		kind = models.EventInjectFailed
		msg = fmt.Sprintf("inject %d %q failed (%d of %d actions)", inj.Sequence, inj.Title, failed, len(inj.Actions))
	}
	e.journal.Record(ctx, rng.ID, "", kind, msg, map[string]string{"inject_id": inj.ID})
	return inj, nil
}

// ExecuteAll runs every Pending inject in sequence order, continuing past
// failures. It returns the number of injects driven to a terminal state.
func (e *Engine) ExecuteAll(ctx context.Context, mselID string, principal *models.User) (int, error) {
	m, err := e.repo.GetMSEL(ctx, mselID)
	if err != nil {
		return 0, err
	}
	rng, err := e.repo.GetRange(ctx, m.RangeID)
	if err != nil {
		return 0, err
	}
	if err := e.authz.CheckWrite(principal, models.KindRange, rng.ID, rng.OwnerID); err != nil {
		return 0, err
	}

	injects, err := e.repo.InjectsByMSEL(ctx, mselID)
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, inj := range injects {
		if inj.Status != models.InjectPending {
			continue
		}
		if _, err := e.ExecuteInject(ctx, inj.ID, principal); err != nil {
			e.Log.WithError(err).WithField("inject", inj.ID).Error("inject execution aborted")
			continue
		}
		executed++
	}
	return executed, nil
}

// SkipInject marks a Pending inject as skipped without running anything.
func (e *Engine) SkipInject(ctx context.Context, injectID string, principal *models.User) (*models.Inject, error) {
	inj, _, err := e.resolve(ctx, injectID, principal)
	if err != nil {
		return nil, err
	}
	if inj.Status != models.InjectPending {
		return nil, models.Conflictf("can only skip pending injects, inject %q is %s", inj.Title, inj.Status)
	}
	inj.Status = models.InjectSkipped
	inj.Log = "Skipped by user"
	if err := e.repo.UpdateInject(ctx, inj); err != nil {
		return nil, err
	}
	return inj, nil
}

// resolve walks inject -> msel -> range and gates on write access.
func (e *Engine) resolve(ctx context.Context, injectID string, principal *models.User) (*models.Inject, *models.Range, error) {
	inj, err := e.repo.GetInject(ctx, injectID)
	if err != nil {
		return nil, nil, err
	}
	m, err := e.repo.GetMSEL(ctx, inj.MSELID)
	if err != nil {
		return nil, nil, err
	}
	rng, err := e.repo.GetRange(ctx, m.RangeID)
	if err != nil {
		return nil, nil, err
	}
	if err := e.authz.CheckWrite(principal, models.KindRange, rng.ID, rng.OwnerID); err != nil {
		return nil, nil, err
	}
	return inj, rng, nil
}

func (e *Engine) runAction(ctx context.Context, action models.Action, byHostname map[string]*models.VM, log *strings.Builder) error {
	if err := action.Validate(); err != nil {
		return err
	}
	vm, ok := byHostname[action.TargetHostname]
	if !ok {
		return models.NotFoundf("no VM with hostname %q in this range", action.TargetHostname)
	}
	if vm.Handle == "" {
		return models.Conflictf("VM %q has no container, deploy the range first", vm.Hostname)
	}

	switch action.Kind {
	case models.ActionRunCommand:
		if vm.Status != models.VMRunning {
			return models.Conflictf("VM %q is %s, commands need a running container", vm.Hostname, vm.Status)
		}
		exitCode, output, err := e.runtime.Exec(ctx, vm.Handle, []string{"sh", "-c", action.Command}, runtime.ExecConfig{})
		if err != nil {
			return err
		}
		fmt.Fprintf(log, "run command on %s: exit %d", vm.Hostname, exitCode)
		if out := strings.TrimSpace(output); out != "" {
			fmt.Fprintf(log, ", output: %s", out)
		}
		log.WriteString("\n")
		return nil

	case models.ActionPlaceFile:
		if err := e.placer.PlaceByFilename(ctx, action.Filename, vm, action.TargetPath); err != nil {
			return err
		}
		fmt.Fprintf(log, "place file %s on %s at %s\n", action.Filename, vm.Hostname, action.TargetPath)
		return nil

	default:
		return models.Validationf("unknown action kind %q", action.Kind)
	}
}
