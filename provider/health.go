package provider

// Status is the tri-state outcome of a health probe.
type Status uint8

const (
	StatusUp Status = iota
	StatusDegraded
	StatusDown
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDegraded:
		return "degraded"
	default:
		return "down"
	}
}

// MarshalText makes Status render as its wire name in JSON/YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Health is a point-in-time probe result. It is recomputed on demand and
// never cached between calls.
type Health struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Available reports whether a provider in this state should be tried.
// Degraded providers are still routable; only Down disqualifies.
func (h Health) Available() bool { return h.Status != StatusDown }

// Up returns a healthy probe result.
func Up() Health { return Health{Status: StatusUp} }

// Degraded returns a partially-healthy probe result with an explanation.
func Degraded(reason string) Health {
	return Health{Status: StatusDegraded, Reason: reason}
}

// Down returns an unavailable probe result with an explanation.
func Down(reason string) Health {
	return Health{Status: StatusDown, Reason: reason}
}
