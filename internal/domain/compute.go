package domain

import "time"

// ComputeUnit describes an ephemeral worker instance created from a template.
type ComputeUnit struct {
	Name       string    `json:"name"`
	InstanceID string    `json:"instance_id"`
	Template   string    `json:"template"`
	Zone       string    `json:"zone,omitempty"`
	State      string    `json:"state"`
	PrivateIP  string    `json:"private_ip,omitempty"`
	LaunchedAt time.Time `json:"launched_at"`
}
