package models

import "time"

type ConnProtocol string

const (
	ProtoTCP  ConnProtocol = "tcp"
	ProtoUDP  ConnProtocol = "udp"
	ProtoICMP ConnProtocol = "icmp"
)

type ConnState string

const (
	ConnEstablished ConnState = "established"
	ConnClosed      ConnState = "closed"
	ConnTimeout     ConnState = "timeout"
	ConnReset       ConnState = "reset"
)

// Connection is one observed network flow inside a range, reported by an
// external probe. VM ids are resolved from the endpoint IPs at write time.
type Connection struct {
	ID       string       `json:"id"`
	RangeID  string       `json:"range_id"`
	SrcVMID  string       `json:"src_vm_id,omitempty"`
	DstVMID  string       `json:"dst_vm_id,omitempty"`
	SrcIP    string       `json:"src_ip"`
	SrcPort  int          `json:"src_port"`
	DstIP    string       `json:"dst_ip"`
	DstPort  int          `json:"dst_port"`
	Protocol ConnProtocol `json:"protocol"`
	State    ConnState    `json:"state"`
	RxBytes  int64        `json:"rx_bytes"`
	TxBytes  int64        `json:"tx_bytes"`
	StartAt  time.Time    `json:"start_at"`
	EndAt    *time.Time   `json:"end_at,omitempty"`
}
