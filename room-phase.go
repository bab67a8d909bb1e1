package ghostrace

import "github.com/chilledoj/ghostrace/protocol"

type RoomPhase int8

const (
	Closed RoomPhase = iota - 1
	Lobby
	Countdown
	Racing
	Finished
)

func (p RoomPhase) String() string {
	switch p {
	case Closed:
		return "closed"
	case Lobby:
		return "lobby"
	case Countdown:
		return "countdown"
	case Racing:
		return "racing"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Wire returns the phase as sent to clients.
func (p RoomPhase) Wire() protocol.Phase {
	return protocol.Phase(p.String())
}
