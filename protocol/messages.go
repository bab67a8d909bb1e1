package protocol

import "encoding/json"

type MessageType string

const (
	// client -> server
	TypeJoin         MessageType = "join"
	TypeReady        MessageType = "ready"
	TypePlayerUpdate MessageType = "player_update"
	TypeLeave        MessageType = "leave"

	// shared tag: client reports its own crash, server relays it with the player id
	TypePlayerCrashed MessageType = "player_crashed"

	// server -> client
	TypeRoomJoined     MessageType = "room_joined"
	TypePlayerJoined   MessageType = "player_joined"
	TypePlayerLeft     MessageType = "player_left"
	TypePlayerReady    MessageType = "player_ready"
	TypeCountdownStart MessageType = "countdown_start"
	TypeRaceStart      MessageType = "race_start"
	TypeGhostUpdate    MessageType = "ghost_update"
	TypeRaceFinished   MessageType = "race_finished"
	TypeError          MessageType = "error"
)

// Message is any value that can travel inside an Envelope.
type Message interface {
	MessageType() MessageType
}

// ClientMessage is sent by clients to the room.
type ClientMessage interface {
	Message
	clientMessage()
}

// ServerMessage is sent by the room to clients.
type ServerMessage interface {
	Message
	serverMessage()
}

// Client -> server

type Join struct {
	Name       string `json:"name"`
	CosmeticID string `json:"cosmeticId"`
}

type Ready struct{}

// PlayerUpdate carries the sender's latest snapshot. Raw holds the snapshot bytes as received
// so the room can relay them without re-encoding.
type PlayerUpdate struct {
	Snapshot Snapshot
	Raw      json.RawMessage
}

type Crashed struct {
	Score int `json:"score"`
}

type Leave struct{}

func (Join) MessageType() MessageType         { return TypeJoin }
func (Ready) MessageType() MessageType        { return TypeReady }
func (PlayerUpdate) MessageType() MessageType { return TypePlayerUpdate }
func (Crashed) MessageType() MessageType      { return TypePlayerCrashed }
func (Leave) MessageType() MessageType        { return TypeLeave }

func (Join) clientMessage()         {}
func (Ready) clientMessage()        {}
func (PlayerUpdate) clientMessage() {}
func (Crashed) clientMessage()      {}
func (Leave) clientMessage()        {}

// Server -> client

type RoomJoined struct {
	RoomCode string       `json:"roomCode"`
	PlayerID string       `json:"playerId"`
	Players  []PlayerInfo `json:"players"`
	Phase    Phase        `json:"phase"`
	Seed     uint32       `json:"seed"`
}

type PlayerJoined struct {
	Player PlayerInfo `json:"player"`
}

type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

type PlayerReady struct {
	PlayerID string `json:"playerId"`
}

type CountdownStart struct {
	StartAtMs int64  `json:"startAtMs"`
	Seed      uint32 `json:"seed"`
}

type RaceStart struct{}

// GhostUpdate relays another player's snapshot. When Raw is set it is written as is.
type GhostUpdate struct {
	PlayerID string
	Snapshot Snapshot
	Raw      json.RawMessage
}

type PlayerCrashed struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

type RaceFinished struct {
	Rankings []RankingEntry `json:"rankings"`
}

type Error struct {
	Message string `json:"message"`
}

func (RoomJoined) MessageType() MessageType     { return TypeRoomJoined }
func (PlayerJoined) MessageType() MessageType   { return TypePlayerJoined }
func (PlayerLeft) MessageType() MessageType     { return TypePlayerLeft }
func (PlayerReady) MessageType() MessageType    { return TypePlayerReady }
func (CountdownStart) MessageType() MessageType { return TypeCountdownStart }
func (RaceStart) MessageType() MessageType      { return TypeRaceStart }
func (GhostUpdate) MessageType() MessageType    { return TypeGhostUpdate }
func (PlayerCrashed) MessageType() MessageType  { return TypePlayerCrashed }
func (RaceFinished) MessageType() MessageType   { return TypeRaceFinished }
func (Error) MessageType() MessageType          { return TypeError }

func (RoomJoined) serverMessage()     {}
func (PlayerJoined) serverMessage()   {}
func (PlayerLeft) serverMessage()     {}
func (PlayerReady) serverMessage()    {}
func (CountdownStart) serverMessage() {}
func (RaceStart) serverMessage()      {}
func (GhostUpdate) serverMessage()    {}
func (PlayerCrashed) serverMessage()  {}
func (RaceFinished) serverMessage()   {}
func (Error) serverMessage()          {}

type playerUpdateWire struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

func (m PlayerUpdate) MarshalJSON() ([]byte, error) {
	raw, err := snapshotBytes(m.Raw, m.Snapshot)
	if err != nil {
		return nil, err
	}
	return json.Marshal(playerUpdateWire{Snapshot: raw})
}

func (m *PlayerUpdate) UnmarshalJSON(b []byte) error {
	var w playerUpdateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s, err := decodeSnapshot(w.Snapshot)
	if err != nil {
		return err
	}
	m.Snapshot = s
	m.Raw = w.Snapshot
	return nil
}

type ghostUpdateWire struct {
	PlayerID string          `json:"playerId"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func (m GhostUpdate) MarshalJSON() ([]byte, error) {
	raw, err := snapshotBytes(m.Raw, m.Snapshot)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ghostUpdateWire{PlayerID: m.PlayerID, Snapshot: raw})
}

func (m *GhostUpdate) UnmarshalJSON(b []byte) error {
	var w ghostUpdateWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s, err := decodeSnapshot(w.Snapshot)
	if err != nil {
		return err
	}
	m.PlayerID = w.PlayerID
	m.Snapshot = s
	m.Raw = w.Snapshot
	return nil
}

func snapshotBytes(raw json.RawMessage, s Snapshot) (json.RawMessage, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	return json.Marshal(s)
}

func decodeSnapshot(raw json.RawMessage) (Snapshot, error) {
	var s Snapshot
	if len(raw) == 0 || string(raw) == "null" {
		return s, ErrMissingSnapshot
	}
	err := json.Unmarshal(raw, &s)
	return s, err
}
