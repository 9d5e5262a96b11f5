package realtime

import "time"

// Diagnostics is a read-only snapshot of transport and auth health for
// debugging. Querying it never mutates connection state.
type Diagnostics struct {
	Status             Status        `json:"status"`
	TransportConnected bool          `json:"transport_connected"`
	LastHeartbeatRTT   time.Duration `json:"last_heartbeat_rtt"`
	TokenValid         bool          `json:"token_valid"`
	TokenExpiresAt     time.Time     `json:"token_expires_at"`
	RetryCount         int           `json:"retry_count"`
	Attempt            uint64        `json:"attempt"`
	Subscriptions      int           `json:"subscriptions"`
	LastError          string        `json:"last_error,omitempty"`
}

// Diagnostics returns the current introspection snapshot.
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := m.transport != nil && m.transport.IsConnected()

	return Diagnostics{
		Status:             m.state.Status,
		TransportConnected: connected,
		LastHeartbeatRTT:   m.lastRTT,
		TokenValid:         !m.tokenExp.IsZero() && time.Now().Before(m.tokenExp),
		TokenExpiresAt:     m.tokenExp,
		RetryCount:         m.state.RetryCount,
		Attempt:            m.attempt,
		Subscriptions:      len(m.subs),
		LastError:          m.state.LastError,
	}
}
