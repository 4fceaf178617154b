package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingNodeID is returned when a manager record has no node id.
	ErrMissingNodeID = errors.New("node record has no node id")

	// ErrNegativeWeight is returned when a manager record carries a negative weight.
	ErrNegativeWeight = errors.New("node record has negative weight")
)

// NodeRecord describes one backend node and its health state as last reported by the manager.
// Records are read-only once they leave the fleet snapshot, including the Health map.
type NodeRecord struct {
	NodeID               string          `json:"node_id"`
	BackendName          string          `json:"backend_name"`
	IP                   string          `json:"ip"`
	Weight               float64         `json:"weight"`
	Healthy              bool            `json:"healthy"`
	Health               map[string]bool `json:"health"`
	LastUpdated          time.Time       `json:"last_updated"`
	LastSuccessTimestamp time.Time       `json:"last_success_timestamp"`
	Errors               []string        `json:"errors,omitempty"`
	StatusCode           int             `json:"status_code"`
	StatusText           string          `json:"status_text"`
	AdnlPort             int             `json:"adnl_port,omitempty"`
	AdnlPublicKey        string          `json:"adnl_public_key,omitempty"`
}

// HealthKey returns the lowercase protocol:network key used in NodeRecord.Health.
func HealthKey(protocol Protocol, network Network) string {
	return strings.ToLower(string(protocol) + ":" + string(network))
}

// HealthyFor reports whether the node is up overall and for the given protocol and network.
// A missing health key counts as unhealthy.
func (n NodeRecord) HealthyFor(protocol Protocol, network Network) bool {
	return n.Healthy && n.Health[HealthKey(protocol, network)]
}

// Clone returns a deep copy of the record.
func (n NodeRecord) Clone() NodeRecord {
	n.Health = maps.Clone(n.Health)
	n.Errors = slices.Clone(n.Errors)
	return n
}

// ManagerNode is a node record as served by the fleet manager.
type ManagerNode struct {
	NodeID        string      `json:"NodeId"`
	BackendName   string      `json:"BackendName"`
	IP            string      `json:"Ip"`
	Weight        float64     `json:"Weight"`
	Healthy       string      `json:"Healthy"`
	AdnlPort      int         `json:"AdnlPort,omitempty"`
	AdnlPublicKey string      `json:"AdnlPublicKey,omitempty"`
	Mngr          ManagerInfo `json:"Mngr"`
}

// ManagerInfo holds the manager's health check results for a node.
type ManagerInfo struct {
	Updated          Timestamp `json:"updated"`
	SuccessTimestamp Timestamp `json:"successTimestamp"`
	Errors           []string  `json:"errors"`
	Status           int       `json:"status"`
	StatusText       string    `json:"statusText"`
	Health           HealthMap `json:"health"`
}

// ToRecord validates the wire record and converts it into a NodeRecord.
func (m ManagerNode) ToRecord() (NodeRecord, error) {
	nodeID := strings.TrimSpace(m.NodeID)
	if nodeID == "" {
		return NodeRecord{}, ErrMissingNodeID
	}
	if m.Weight < 0 {
		return NodeRecord{}, fmt.Errorf("%w: node %s weight %v", ErrNegativeWeight, nodeID, m.Weight)
	}

	health := make(map[string]bool, len(m.Mngr.Health))
	for key, ok := range m.Mngr.Health {
		setHealth(health, key, ok)
	}

	var errs []string
	if len(m.Mngr.Errors) > 0 {
		errs = append(errs, m.Mngr.Errors...)
	}

	return NodeRecord{
		NodeID:               nodeID,
		BackendName:          m.BackendName,
		IP:                   m.IP,
		Weight:               m.Weight,
		Healthy:              ParseHealthyFlag(m.Healthy),
		Health:               health,
		LastUpdated:          m.Mngr.Updated.Time,
		LastSuccessTimestamp: m.Mngr.SuccessTimestamp.Time,
		Errors:               errs,
		StatusCode:           m.Mngr.Status,
		StatusText:           m.Mngr.StatusText,
		AdnlPort:             m.AdnlPort,
		AdnlPublicKey:        m.AdnlPublicKey,
	}, nil
}

// ParseHealthyFlag normalizes the manager's string health flag.
func ParseHealthyFlag(flag string) bool {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "1", "true", "yes", "ok":
		return true
	default:
		return false
	}
}

// Timestamp decodes either an RFC3339 string or a unix millisecond number.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			t.Time = time.Time{}
			return nil
		}
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t.Time = time.UnixMilli(millis).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
		t.Time = parsed
		return nil
	}

	millis, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(millis)).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// HealthMap decodes per-capability health. Both the flat form
// {"toncenter-api-v2:mainnet": true} and the nested form
// {"toncenter-api-v2": {"mainnet": true}} are accepted.
type HealthMap map[string]bool

// UnmarshalJSON implements json.Unmarshaler.
func (h *HealthMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(HealthMap, len(raw))
	for key, value := range raw {
		var flag bool
		if err := json.Unmarshal(value, &flag); err == nil {
			setHealth(out, key, flag)
			continue
		}

		var nested map[string]bool
		if err := json.Unmarshal(value, &nested); err != nil {
			return fmt.Errorf("invalid health entry %q: %w", key, err)
		}
		for network, ok := range nested {
			setHealth(out, key+":"+network, ok)
		}
	}

	*h = out
	return nil
}

// setHealth stores a capability under its lowercase key. Keys that collide after
// lowercasing are healthy only if every spelling reports healthy.
func setHealth(health map[string]bool, key string, ok bool) {
	key = strings.ToLower(key)
	if prev, exists := health[key]; exists {
		ok = ok && prev
	}
	health[key] = ok
}
