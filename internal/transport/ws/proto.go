package ws

import (
	"time"

	"github.com/san-kum/cellsim/internal/description"
	"github.com/san-kum/cellsim/internal/engine"
)

const ProtocolVersion = 1

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeSnapshot  = "SNAPSHOT"
	TypeStats     = "STATS"
	TypeError     = "ERROR"
)

// ClientMsg is any message a client sends. Type selects which fields apply.
type ClientMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`

	// SUBSCRIBE
	IntervalMS int `json:"interval_ms,omitempty"`

	// SNAPSHOT
	UpperLeft  description.IntVector `json:"upper_left,omitzero"`
	LowerRight description.IntVector `json:"lower_right,omitzero"`
}

type StatsMsg struct {
	Type           string    `json:"type"`
	State          string    `json:"state"`
	Timestep       uint64    `json:"timestep"`
	TPS            float64   `json:"tps"`
	TPSLimit       int       `json:"tps_limit"`
	Cells          int       `json:"cells"`
	Particles      int       `json:"particles"`
	Tokens         int       `json:"tokens"`
	InternalEnergy float64   `json:"internal_energy"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

func NewStatsMsg(s engine.Statistics) StatsMsg {
	return StatsMsg{
		Type:           TypeStats,
		State:          s.State.String(),
		Timestep:       s.Timestep,
		TPS:            s.TPS,
		TPSLimit:       s.TPSLimit,
		Cells:          s.Cells,
		Particles:      s.Particles,
		Tokens:         s.Tokens,
		InternalEnergy: s.InternalEnergy,
		UpdatedAt:      s.UpdatedAt,
	}
}

type SnapshotMsg struct {
	Type     string           `json:"type"`
	Timestep uint64           `json:"timestep"`
	Data     description.Data `json:"data"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
