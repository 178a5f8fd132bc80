package models

type IsolationLevel string

const (
	IsolationComplete   IsolationLevel = "complete"
	IsolationControlled IsolationLevel = "controlled"
	IsolationOpen       IsolationLevel = "open"
)

// Internal reports whether the engine network must block egress to the
// host and the outside world.
func (l IsolationLevel) Internal() bool {
	return l == IsolationComplete || l == IsolationControlled
}

type Network struct {
	ID        string         `json:"id"`
	RangeID   string         `json:"range_id"`
	Name      string         `json:"name"`
	CIDR      string         `json:"cidr"`
	Gateway   string         `json:"gateway"`
	DNS       []string       `json:"dns,omitempty"`
	Isolation IsolationLevel `json:"isolation_level"`

	// Handle is the engine network id, set once provisioned.
	Handle string `json:"handle,omitempty"`
}

func (n *Network) Provisioned() bool { return n.Handle != "" }
