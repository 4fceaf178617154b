package models

import (
	"maps"
	"time"
)

// NodeStatus is the status API view of a fleet node.
type NodeStatus struct {
	NodeID      string          `json:"node_id"`
	BackendName string          `json:"backend_name"`
	Online      bool            `json:"online"`
	Weight      float64         `json:"weight"`
	Health      map[string]bool `json:"health"`
	LastUpdated time.Time       `json:"last_updated"`
	LastSuccess time.Time       `json:"last_success"`
	LastError   string          `json:"last_error,omitempty"`
	StatusCode  int             `json:"status_code"`
	StatusText  string          `json:"status_text,omitempty"`
}

// Status builds the status view of a node record.
func (n NodeRecord) Status() NodeStatus {
	status := NodeStatus{
		NodeID:      n.NodeID,
		BackendName: n.BackendName,
		Online:      n.Healthy,
		Weight:      n.Weight,
		Health:      maps.Clone(n.Health),
		LastUpdated: n.LastUpdated,
		LastSuccess: n.LastSuccessTimestamp,
		StatusCode:  n.StatusCode,
		StatusText:  n.StatusText,
	}
	if len(n.Errors) > 0 {
		status.LastError = n.Errors[len(n.Errors)-1]
	}
	return status
}

// FleetStatus is the status API view of the cached fleet snapshot.
type FleetStatus struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Age       string       `json:"age"`
	Nodes     []NodeStatus `json:"nodes"`
}
