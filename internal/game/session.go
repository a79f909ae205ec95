package game

import (
	"party-cards/internal/doc"
)

const systemSender = "system"

// session pairs a document transaction with its decoded state. Every write
// goes through a helper that updates both, so later rule checks in the same
// transaction see it.
//
// Each helper writes exactly one register or keyed entry. Composite values are
// replaced whole, so the rules only ever let one actor write a given field per
// action: a player writes their own hand and submission entry, the judge writes
// the winner fields, and whoever advances the phase writes the pools.
type session struct {
	tx  *doc.Tx
	st  State
	now int64
}

func newSession(tx *doc.Tx, now int64) *session {
	return &session{tx: tx, st: Load(tx), now: now}
}

func (s *session) setGame(key string, value any) {
	s.tx.Set(CollectionGame, key, value)
}

func (s *session) setPhase(phase Phase) {
	s.st.Game.Phase = phase
	s.setGame(keyPhase, phase)
}

func (s *session) setStatus(status Status) {
	s.st.Meta.Status = status
	s.tx.Set(CollectionMeta, keyStatus, status)
}

func (s *session) setJudge(id string) {
	s.st.Game.JudgeID = id
	s.setGame(keyJudgeID, id)
}

func (s *session) setBlackCard(card *BlackCard) {
	s.st.Game.BlackCard = card
	s.setGame(keyBlackCard, card)
}

func (s *session) setScores(scores map[string]int) {
	s.st.Game.Scores = scores
	s.setGame(keyScores, scores)
}

func (s *session) setSkipped(skipped []string) {
	s.st.Game.SkippedPlayers = skipped
	s.setGame(keySkippedPlayers, skipped)
}

func (s *session) setRevealed(revealed map[string]bool) {
	s.st.Game.RevealedCards = revealed
	s.setGame(keyRevealedCards, revealed)
}

func (s *session) setPlayerOrder(order []string) {
	s.st.Game.PlayerOrder = order
	s.setGame(keyPlayerOrder, order)
}

func (s *session) setRoundWinner(id string, cards []string, readAloud string) {
	s.st.Game.RoundWinner = id
	s.st.Game.WinningCards = cards
	s.st.Game.ReadAloudText = readAloud
	s.setGame(keyRoundWinner, id)
	s.setGame(keyWinningCards, cards)
	s.setGame(keyReadAloudText, readAloud)
}

// setHand writes a player's hand. An empty entry is not a dealt hand: it
// marks a dealt-in participant, which is what makes the first judge eligible
// for later rotation while holding no cards.
func (s *session) setHand(id string, cards []string) {
	if cards == nil {
		cards = []string{}
	}
	s.st.Hands[id] = cards
	s.tx.Set(CollectionHands, id, cards)
}

func (s *session) deleteHand(id string) {
	delete(s.st.Hands, id)
	s.tx.Delete(CollectionHands, id)
}

func (s *session) setSubmission(id string, cards []string) {
	s.st.Game.Submissions[id] = cards
	s.tx.Set(CollectionSubmissions, id, cards)
}

func (s *session) deleteSubmission(id string) {
	delete(s.st.Game.Submissions, id)
	s.tx.Delete(CollectionSubmissions, id)
}

func (s *session) clearSubmissions() {
	for _, id := range sortedKeys(s.st.Game.Submissions) {
		s.deleteSubmission(id)
	}
}

func (s *session) clearReturned() {
	for _, id := range sortedKeys(s.st.Game.ReturnedToLobby) {
		delete(s.st.Game.ReturnedToLobby, id)
		s.tx.Delete(CollectionReturned, id)
	}
}

func (s *session) savePools() {
	s.tx.Set(CollectionPools, keyWhiteDeck, nonNil(s.st.Pools.WhiteDeck))
	s.tx.Set(CollectionPools, keyBlackDeck, nonNil(s.st.Pools.BlackDeck))
	s.tx.Set(CollectionPools, keyDiscardWhite, nonNil(s.st.Pools.DiscardWhite))
	s.tx.Set(CollectionPools, keyDiscardBlack, nonNil(s.st.Pools.DiscardBlack))
}

func (s *session) savePlayer(player Player) {
	s.st.Players[player.ID] = player
	s.tx.Set(CollectionPlayers, player.ID, player)
}

func (s *session) deletePlayer(id string) {
	delete(s.st.Players, id)
	s.tx.Delete(CollectionPlayers, id)
}

func (s *session) systemChat(text string) {
	entry := ChatEntry{SenderID: systemSender, Text: text, Timestamp: s.now, IsSystem: true}
	entry.ID = s.tx.Append(CollectionChat, entry)
	s.st.Chat = append(s.st.Chat, entry)
}

// discardSubmissions moves every submitted card to the white discard pile.
func (s *session) discardSubmissions() {
	for _, id := range sortedKeys(s.st.Game.Submissions) {
		s.st.Pools.DiscardWhite = append(s.st.Pools.DiscardWhite, s.st.Game.Submissions[id]...)
		s.deleteSubmission(id)
	}
}

// discardBlackCard retires the current prompt.
func (s *session) discardBlackCard() {
	if s.st.Game.BlackCard == nil {
		return
	}
	s.st.Pools.DiscardBlack = append(s.st.Pools.DiscardBlack, s.st.Game.BlackCard.ID)
	s.setBlackCard(nil)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func without(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value != target {
			out = append(out, value)
		}
	}
	return out
}
