package ghostrace

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// RoomCodeAlphabet leaves out I, O, 0 and 1.
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const RoomCodeLength = 4

var ErrInvalidRoomCode = errors.New("invalid room code")

func NewRoomCode() (string, error) {
	b := make([]byte, RoomCodeLength)
	max := big.NewInt(int64(len(RoomCodeAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = RoomCodeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

// NormalizeRoomCode upper-cases code and checks it against the alphabet.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != RoomCodeLength {
		return "", ErrInvalidRoomCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(RoomCodeAlphabet, code[i]) < 0 {
			return "", ErrInvalidRoomCode
		}
	}
	return code, nil
}
