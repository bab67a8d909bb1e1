package ghostrace

import (
	"cmp"
	"slices"

	"github.com/chilledoj/ghostrace/protocol"
)

// computeRankings orders players by score, highest first. Equal scores go to whoever crashed
// first, then to the lower player id.
func computeRankings(players []*player) []protocol.RankingEntry {
	sorted := slices.Clone(players)
	slices.SortFunc(sorted, func(a, b *player) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.crashOrder, b.crashOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	rankings := make([]protocol.RankingEntry, len(sorted))
	for i, p := range sorted {
		rankings[i] = protocol.RankingEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
			Rank:     i + 1,
		}
	}
	return rankings
}
