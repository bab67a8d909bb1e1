package ghostrace

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chilledoj/ghostrace/protocol"
)

const maxNameLength = 16

type player struct {
	protocol.PlayerInfo

	// last score seen in a relayed snapshot, used for implicit crashes
	lastScore int
	// 1-based position in the crash sequence, 0 while alive
	crashOrder int
}

func newPlayer(id, name, cosmeticID string) *player {
	return &player{
		PlayerInfo: protocol.PlayerInfo{
			ID:         id,
			Name:       name,
			CosmeticID: cosmeticID,
			Alive:      true,
		},
	}
}

func sanitizeName(name string, seat int) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	if name == "" {
		return "Player " + strconv.Itoa(seat)
	}
	return name
}
