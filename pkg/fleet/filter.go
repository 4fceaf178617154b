package fleet

import "tonaccess/pkg/models"

// Healthy returns the nodes usable for protocol on network: overall healthy and
// healthy for the protocol:network capability. Order follows the snapshot (node id).
func Healthy(snapshot *Snapshot, protocol models.Protocol, network models.Network) []models.NodeRecord {
	if snapshot == nil {
		return nil
	}

	candidates := make([]models.NodeRecord, 0, snapshot.Len())
	for _, id := range snapshot.order {
		node := snapshot.nodes[id]
		if node.HealthyFor(protocol, network) {
			candidates = append(candidates, node.Clone())
		}
	}

	return candidates
}
