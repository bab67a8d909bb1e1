package protocol

// Snapshot is one player's pose, score and alive state at one instant.
// Timestamp is milliseconds on the sending client's monotonic clock.
type Snapshot struct {
	Timestamp     float64 `json:"timestamp"`
	Y             float64 `json:"y"`
	OnGround      bool    `json:"onGround"`
	WheelRotation float64 `json:"wheelRotation"`
	BikeTilt      float64 `json:"bikeTilt"`
	RiderLean     float64 `json:"riderLean"`
	RiderCrouch   float64 `json:"riderCrouch"`
	LegTuck       float64 `json:"legTuck"`
	FlipAngle     float64 `json:"flipAngle"`
	FlipDirection int     `json:"flipDirection"`
	TrickID       string  `json:"trickId"`
	TrickProgress float64 `json:"trickProgress"`
	Score         int     `json:"score"`
	Alive         bool    `json:"alive"`
}

type PlayerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CosmeticID string `json:"cosmeticId"`
	Ready      bool   `json:"ready"`
	Alive      bool   `json:"alive"`
	Score      int    `json:"score"`
}

type RankingEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// Phase is the lifecycle state of a room as seen on the wire.
type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseCountdown Phase = "countdown"
	PhaseRacing    Phase = "racing"
	PhaseFinished  Phase = "finished"
)
