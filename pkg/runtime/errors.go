package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containers/podman/v5/pkg/errorhandling"
	"github.com/docker/docker/client"
	"golang.org/x/xerrors"

	"github.com/cyroid/cyroid/pkg/models"
)

// OpError tags an engine failure with the adapter operation and one of the
// models sentinels, and keeps an xerrors frame so %+v shows where the call
// was made. errors.Is(err, models.ErrX) matches the sentinel; Unwrap walks
// to the engine's error.
type OpError struct {
	Op    string
	Kind  error
	Err   error
	frame xerrors.Frame
}

func newOpError(op string, kind, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err, frame: xerrors.Caller(2)}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// FormatError prints the operation plus the frame for %+v.
func (e *OpError) FormatError(p xerrors.Printer) error {
	p.Printf("%s: %v", e.Op, e.Err)
	e.frame.Format(p)
	return nil
}

func (e *OpError) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// conflictFragments are the engine message shards that mean "this network
// or name collides with something that already exists".
var conflictFragments = []string{
	"overlap",
	"already exists",
	"already used",
	"is already in use",
	"name is in use",
	"already being used",
}

func isConflictText(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, frag := range conflictFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func isConnectionText(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "cannot connect") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such file or directory")
}

// dockerError classifies a docker SDK failure.
func dockerError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrNotFound(err):
		return newOpError(op, models.ErrNotFound, err)
	case client.IsErrConnectionFailed(err):
		return newOpError(op, models.ErrTransient, err)
	case isConflictText(err):
		return newOpError(op, models.ErrConflict, err)
	}
	return newOpError(op, models.ErrUnrecoverable, err)
}

// podmanError classifies a podman bindings failure.
func podmanError(op string, err error) error {
	if err == nil {
		return nil
	}
	var em *errorhandling.ErrorModel
	if errors.As(err, &em) {
		switch em.ResponseCode {
		case 404:
			return newOpError(op, models.ErrNotFound, err)
		case 409:
			return newOpError(op, models.ErrConflict, err)
		}
	}
	switch {
	case isConnectionText(err):
		return newOpError(op, models.ErrTransient, err)
	case isConflictText(err):
		return newOpError(op, models.ErrConflict, err)
	}
	return newOpError(op, models.ErrUnrecoverable, err)
}
