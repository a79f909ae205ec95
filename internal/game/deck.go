package game

import (
	"math/rand/v2"
)

// Shuffler permutes n elements through swap, as rand.Shuffle does.
type Shuffler func(n int, swap func(i, j int))

func defaultShuffle(n int, swap func(i, j int)) {
	rand.Shuffle(n, swap)
}

func shuffleIDs(ids []string, shuffle Shuffler) {
	shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// inPlay is every white card currently held, submitted or still in the deck.
func (s *session) inPlay() map[string]struct{} {
	held := make(map[string]struct{}, len(s.st.Pools.WhiteDeck))
	for _, id := range s.st.Pools.WhiteDeck {
		held[id] = struct{}{}
	}
	for _, hand := range s.st.Hands {
		for _, id := range hand {
			held[id] = struct{}{}
		}
	}
	for _, cards := range s.st.Game.Submissions {
		for _, id := range cards {
			held[id] = struct{}{}
		}
	}
	return held
}

// reshuffleWhite moves the white discard pile under the draw pile and
// shuffles the result. Discarded ids still held elsewhere are dropped.
func (s *session) reshuffleWhite(shuffle Shuffler) {
	held := s.inPlay()
	deck := s.st.Pools.WhiteDeck
	for _, id := range s.st.Pools.DiscardWhite {
		if _, ok := held[id]; ok {
			continue
		}
		held[id] = struct{}{}
		deck = append(deck, id)
	}
	shuffleIDs(deck, shuffle)
	s.st.Pools.WhiteDeck = deck
	s.st.Pools.DiscardWhite = []string{}
}

// drawWhite takes up to n cards from the top of the deck, reshuffling the
// discard pile first when the deck cannot cover n.
func (s *session) drawWhite(n int, shuffle Shuffler) []string {
	if n <= 0 {
		return nil
	}
	if len(s.st.Pools.WhiteDeck) < n && len(s.st.Pools.DiscardWhite) > 0 {
		s.reshuffleWhite(shuffle)
	}
	if n > len(s.st.Pools.WhiteDeck) {
		n = len(s.st.Pools.WhiteDeck)
	}
	drawn := append([]string(nil), s.st.Pools.WhiteDeck[:n]...)
	s.st.Pools.WhiteDeck = s.st.Pools.WhiteDeck[n:]
	return drawn
}

// drawBlack pops the next prompt, recycling the black discard pile when the
// deck is empty. It returns nil if no prompt is left anywhere.
func (s *session) drawBlack(shuffle Shuffler) *BlackCard {
	if len(s.st.Pools.BlackDeck) == 0 && len(s.st.Pools.DiscardBlack) > 0 {
		current := ""
		if s.st.Game.BlackCard != nil {
			current = s.st.Game.BlackCard.ID
		}
		deck := make([]string, 0, len(s.st.Pools.DiscardBlack))
		seen := make(map[string]struct{}, len(s.st.Pools.DiscardBlack))
		for _, id := range s.st.Pools.DiscardBlack {
			if _, dup := seen[id]; dup || id == current {
				continue
			}
			seen[id] = struct{}{}
			deck = append(deck, id)
		}
		shuffleIDs(deck, shuffle)
		s.st.Pools.BlackDeck = deck
		s.st.Pools.DiscardBlack = []string{}
	}
	if len(s.st.Pools.BlackDeck) == 0 {
		return nil
	}
	id := s.st.Pools.BlackDeck[0]
	s.st.Pools.BlackDeck = s.st.Pools.BlackDeck[1:]
	return s.blackCard(id)
}

func (s *session) blackCard(id string) *BlackCard {
	text := s.st.Pools.CardTextCache[id]
	pick := text.Pick
	if pick < 1 {
		pick = 1
	}
	return &BlackCard{ID: id, Text: text.Text, Pick: pick}
}

// refillHands tops every hand holder except the judge up to cardsPerPlayer,
// in playerOrder first and then any mid-game joiners by id.
func (s *session) refillHands(shuffle Shuffler) {
	target := s.st.Settings.CardsPerPlayer
	for _, id := range s.handOrder() {
		if id == s.st.Game.JudgeID {
			continue
		}
		s.refillHand(id, target, shuffle)
	}
}

func (s *session) refillHand(id string, target int, shuffle Shuffler) {
	hand := s.st.Hands[id]
	missing := target - len(hand)
	if missing <= 0 {
		return
	}
	drawn := s.drawWhite(missing, shuffle)
	if len(drawn) == 0 {
		return
	}
	s.setHand(id, append(append([]string{}, hand...), drawn...))
}

func (s *session) handOrder() []string {
	out := make([]string, 0, len(s.st.Hands))
	seen := make(map[string]struct{}, len(s.st.Hands))
	for _, id := range s.st.Game.PlayerOrder {
		if _, ok := s.st.Hands[id]; ok {
			out = append(out, id)
			seen[id] = struct{}{}
		}
	}
	for _, id := range sortedKeys(s.st.Hands) {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// nextJudge walks order from current and returns the first later id that
// still holds a hand, wrapping once. It returns "" when nobody qualifies.
func nextJudge(order []string, current string, hands map[string][]string) string {
	if len(order) == 0 {
		return ""
	}
	start := -1
	for i, id := range order {
		if id == current {
			start = i
			break
		}
	}
	for step := 1; step <= len(order); step++ {
		candidate := order[(start+step+len(order))%len(order)]
		if candidate == current {
			continue
		}
		if _, ok := hands[candidate]; ok {
			return candidate
		}
	}
	return ""
}
