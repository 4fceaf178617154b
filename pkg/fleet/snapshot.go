package fleet

import (
	"fmt"
	"sort"
	"time"

	"tonaccess/pkg/models"
)

// Snapshot is an immutable view of the fleet as reported by one manager fetch.
// Records go in and come out as deep copies.
type Snapshot struct {
	nodes     map[string]models.NodeRecord
	order     []string
	fetchedAt time.Time
}

// NewSnapshot builds a snapshot from node records. Node ids must be unique.
func NewSnapshot(nodes []models.NodeRecord, fetchedAt time.Time) (*Snapshot, error) {
	byID := make(map[string]models.NodeRecord, len(nodes))
	order := make([]string, 0, len(nodes))

	for _, node := range nodes {
		if node.NodeID == "" {
			return nil, models.ErrMissingNodeID
		}
		if _, exists := byID[node.NodeID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, node.NodeID)
		}
		byID[node.NodeID] = node.Clone()
		order = append(order, node.NodeID)
	}
	sort.Strings(order)

	return &Snapshot{
		nodes:     byID,
		order:     order,
		fetchedAt: fetchedAt,
	}, nil
}

// FetchedAt returns the instant the snapshot was retrieved.
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.fetchedAt)
}

// Len returns the number of nodes.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Node returns the record for a node id.
func (s *Snapshot) Node(nodeID string) (models.NodeRecord, bool) {
	node, ok := s.nodes[nodeID]
	return node.Clone(), ok
}

// Nodes returns all records ordered by node id.
func (s *Snapshot) Nodes() []models.NodeRecord {
	out := make([]models.NodeRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].Clone())
	}
	return out
}

// Status returns the status API view of the snapshot.
func (s *Snapshot) Status(now time.Time) models.FleetStatus {
	statuses := make([]models.NodeStatus, 0, len(s.order))
	for _, id := range s.order {
		statuses = append(statuses, s.nodes[id].Status())
	}

	return models.FleetStatus{
		FetchedAt: s.fetchedAt,
		Age:       s.Age(now).Round(time.Second).String(),
		Nodes:     statuses,
	}
}
