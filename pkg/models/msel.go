package models

import "time"

// MSEL is a Master Scenario Events List: the timeline document driving an
// exercise. At most one exists per range.
type MSEL struct {
	ID      string `json:"id"`
	RangeID string `json:"range_id"`
	Name    string `json:"name"`
	RawText string `json:"raw_text"`
}

type InjectStatus string

const (
	InjectPending   InjectStatus = "pending"
	InjectExecuting InjectStatus = "executing"
	InjectCompleted InjectStatus = "completed"
	InjectFailed    InjectStatus = "failed"
	InjectSkipped   InjectStatus = "skipped"
)

// Inject is one timed scenario event: an offset from exercise start plus
// an ordered list of actions to run against VMs.
type Inject struct {
	ID          string       `json:"id"`
	MSELID      string       `json:"msel_id"`
	Sequence    int          `json:"sequence"`
	TimeMinutes int          `json:"inject_time_minutes"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Actions     []Action     `json:"actions"`
	Status      InjectStatus `json:"status"`
	ExecutedAt  *time.Time   `json:"executed_at,omitempty"`
	Log         string       `json:"log,omitempty"`
}

type ActionKind string

const (
	ActionRunCommand ActionKind = "run_command"
	ActionPlaceFile  ActionKind = "place_file"
)

// Action is a tagged variant: Kind selects which parameter fields are
// meaningful. Construct through NewRunCommand/NewPlaceFile and reject
// unknown kinds at the boundary via Validate.
type Action struct {
	Kind           ActionKind `json:"kind"`
	TargetHostname string     `json:"target_hostname"`
	Command        string     `json:"command,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	TargetPath     string     `json:"target_path,omitempty"`
}

func NewRunCommand(hostname, command string) Action {
	return Action{Kind: ActionRunCommand, TargetHostname: hostname, Command: command}
}

func NewPlaceFile(filename, hostname, targetPath string) Action {
	return Action{Kind: ActionPlaceFile, TargetHostname: hostname, Filename: filename, TargetPath: targetPath}
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionRunCommand:
		if a.TargetHostname == "" || a.Command == "" {
			return Validationf("run_command action requires a hostname and a command")
		}
	case ActionPlaceFile:
		if a.TargetHostname == "" || a.Filename == "" || a.TargetPath == "" {
			return Validationf("place_file action requires a filename, hostname and target path")
		}
	default:
		return Validationf("unknown action kind %q", a.Kind)
	}
	return nil
}
