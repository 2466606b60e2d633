package trivia

import (
	"math/rand"
	"sort"
)

// Standing is a player's current position in the game as seen by the rules.
type Standing struct {
	PlayerID int64
	Score    int
}

// PickNosy chooses the nosy for a new round.
//
// First pass: every player serves once before anyone repeats, chosen
// uniformly at random among those who have not served. Once everyone has
// served, the lowest-scoring active player takes the role, ties breaking on
// the lower player id. prevNosy is skipped in both passes so a player never
// serves twice in a row (and a nosy whose round was restarted is only
// re-picked when nobody else remains). Returns 0 if active is empty.
func PickNosy(active []Standing, served map[int64]bool, prevNosy int64, rng *rand.Rand) int64 {
	if len(active) == 0 {
		return 0
	}

	var fresh []Standing
	for _, s := range active {
		if !served[s.PlayerID] && s.PlayerID != prevNosy {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) > 0 {
		return fresh[rng.Intn(len(fresh))].PlayerID
	}

	candidates := make([]Standing, 0, len(active))
	for _, s := range active {
		if s.PlayerID != prevNosy {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		// Only the previous nosy is left standing; they repeat.
		candidates = append(candidates, active...)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].PlayerID < candidates[j].PlayerID
	})
	return candidates[0].PlayerID
}
