package game

import (
	"math/rand/v2"
)

type BotAction string

const (
	BotPlay   BotAction = "play"
	BotSelect BotAction = "select"
)

// BotMove is one pending action for a bot player. Cards is set for plays,
// Winner for judge selections.
type BotMove struct {
	PlayerID string
	Action   BotAction
	Cards    []string
	Winner   string
}

// BotMoves lists what every bot still owes the current phase. The choices
// are uniform random draws from rng, or the package source when rng is nil.
func BotMoves(v View, rng *rand.Rand) []BotMove {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	var moves []BotMove
	switch v.Game.Phase {
	case PhaseSubmitting:
		if v.Game.BlackCard == nil {
			return nil
		}
		pick := v.Game.BlackCard.Pick
		for _, id := range v.RequiredSubmitters() {
			if !isBot(v.State, id) {
				continue
			}
			if _, done := v.Game.Submissions[id]; done {
				continue
			}
			hand := v.Hands[id]
			if len(hand) < pick {
				continue
			}
			cards := make([]string, 0, pick)
			for _, idx := range pickIndexes(len(hand), pick, intN) {
				cards = append(cards, hand[idx])
			}
			moves = append(moves, BotMove{PlayerID: id, Action: BotPlay, Cards: cards})
		}
	case PhaseJudging:
		judge := v.Game.JudgeID
		if !isBot(v.State, judge) || len(v.Game.Submissions) == 0 {
			return nil
		}
		candidates := sortedKeys(v.Game.Submissions)
		moves = append(moves, BotMove{PlayerID: judge, Action: BotSelect, Winner: candidates[intN(len(candidates))]})
	}
	return moves
}

func isBot(state State, id string) bool {
	player, ok := state.Players[id]
	return ok && player.PlayerType == PlayerTypeBot
}

func pickIndexes(n, k int, intN func(int) int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + intN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// PlayBot applies a move produced by BotMoves. The rules are checked again,
// so a stale move is rejected like any other.
func (e *Engine) PlayBot(move BotMove) Result {
	switch move.Action {
	case BotPlay:
		return e.PlayCard(move.PlayerID, move.Cards)
	case BotSelect:
		return e.SelectWinner(move.Winner)
	default:
		return rejected(ReasonWrongPhase)
	}
}
