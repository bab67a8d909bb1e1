package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage    = errors.New("empty message")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMissingSnapshot = errors.New("missing snapshot")
)

// Envelope is the wire frame of every message: a type tag plus its payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("trying to encode nil message")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.MessageType(), err)
	}
	return json.Marshal(Envelope{Type: m.MessageType(), Data: data})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	return env, nil
}

// DecodeClient decodes a frame sent by a client. Unknown tags return ErrUnknownType.
func DecodeClient(b []byte) (ClientMessage, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeJoin:
		return decodeData[Join](env)
	case TypeReady:
		return Ready{}, nil
	case TypePlayerUpdate:
		return decodeData[PlayerUpdate](env)
	case TypePlayerCrashed:
		return decodeData[Crashed](env)
	case TypeLeave:
		return Leave{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeServer decodes a frame sent by the room. Unknown tags return ErrUnknownType.
func DecodeServer(b []byte) (ServerMessage, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeRoomJoined:
		return decodeData[RoomJoined](env)
	case TypePlayerJoined:
		return decodeData[PlayerJoined](env)
	case TypePlayerLeft:
		return decodeData[PlayerLeft](env)
	case TypePlayerReady:
		return decodeData[PlayerReady](env)
	case TypeCountdownStart:
		return decodeData[CountdownStart](env)
	case TypeRaceStart:
		return RaceStart{}, nil
	case TypeGhostUpdate:
		return decodeData[GhostUpdate](env)
	case TypePlayerCrashed:
		return decodeData[PlayerCrashed](env)
	case TypeRaceFinished:
		return decodeData[RaceFinished](env)
	case TypeError:
		return decodeData[Error](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeData[T any](env Envelope) (T, error) {
	var out T
	if len(env.Data) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return out, nil
}
