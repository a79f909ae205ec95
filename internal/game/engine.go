package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"party-cards/internal/common/clock"
	"party-cards/internal/doc"
)

// DefaultHandOff is how long submitting-complete is held before judging.
const DefaultHandOff = 500 * time.Millisecond

// Reason explains why a rule operation was rejected.
type Reason string

const (
	ReasonWrongPhase        Reason = "wrong_phase"
	ReasonNotEnoughPlayers  Reason = "not_enough_players"
	ReasonNotEnoughCards    Reason = "not_enough_cards"
	ReasonCatalogFailed     Reason = "catalog_unavailable"
	ReasonRosterChanged     Reason = "roster_changed"
	ReasonUnknownPlayer     Reason = "unknown_player"
	ReasonNotEligible       Reason = "player_not_in_round"
	ReasonIsJudge           Reason = "player_is_judge"
	ReasonAlreadySubmitted  Reason = "already_submitted"
	ReasonPlayerSkipped     Reason = "player_skipped"
	ReasonWrongCardCount    Reason = "wrong_card_count"
	ReasonDuplicateCard     Reason = "duplicate_card"
	ReasonCardNotInHand     Reason = "card_not_in_hand"
	ReasonNoSubmission      Reason = "no_submission"
	ReasonNoBlackCard       Reason = "no_black_card"
	ReasonNotSpectator      Reason = "not_spectator"
	ReasonAlreadyDealt      Reason = "already_dealt"
	ReasonNotHost           Reason = "not_host"
	ReasonCannotKickSelf    Reason = "cannot_kick_self"
	ReasonSubmissionPending Reason = "submissions_incomplete"
	ReasonWriteFailed       Reason = "write_failed"
)

// Result is what every rule operation returns instead of an error.
type Result struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
}

func succeeded() Result { return Result{Success: true} }

func rejected(reason Reason) Result { return Result{Reason: reason} }

var errRejected = errors.New("rule rejected")

type Options struct {
	Catalog   Catalog
	Clock     clock.Clock
	HandOff   time.Duration
	AfterFunc func(time.Duration, func())
	Shuffle   Shuffler
}

// Engine runs the round state machine against one session document. Every
// operation validates and writes inside a single transaction.
type Engine struct {
	doc       *doc.Document
	mutations *Mutations
	catalog   Catalog
	clock     clock.Clock
	handOff   time.Duration
	afterFunc func(time.Duration, func())
	shuffle   Shuffler
}

func NewEngine(d *doc.Document, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = &clock.DefaultClock{}
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.HandOff <= 0 {
		opts.HandOff = DefaultHandOff
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(delay time.Duration, fn func()) { time.AfterFunc(delay, fn) }
	}
	if opts.Shuffle == nil {
		opts.Shuffle = defaultShuffle
	}
	return &Engine{
		doc:       d,
		mutations: NewMutations(d, opts.Clock),
		catalog:   opts.Catalog,
		clock:     opts.Clock,
		handOff:   opts.HandOff,
		afterFunc: opts.AfterFunc,
		shuffle:   opts.Shuffle,
	}
}

func (e *Engine) Mutations() *Mutations {
	return e.mutations
}

func (e *Engine) Document() *doc.Document {
	return e.doc
}

func (e *Engine) apply(op string, fn func(s *session) Reason) Result {
	var reason Reason
	now := e.clock.Now().UnixMilli()
	_, err := e.doc.Transact(func(tx *doc.Tx) error {
		reason = fn(newSession(tx, now))
		if reason != "" {
			return errRejected
		}
		return nil
	})
	if reason != "" {
		return rejected(reason)
	}
	if err != nil {
		log.Printf("game op failed op=%s error=%v", op, err)
		return rejected(ReasonWriteFailed)
	}
	return succeeded()
}

// StartGame deals the first round: the catalog supplies the card universe,
// the host judges first and everyone else gets a full hand.
func (e *Engine) StartGame(ctx context.Context) Result {
	state := Load(e.doc)
	order := startingOrder(state)
	if reason := startCheck(state, order); reason != "" {
		return rejected(reason)
	}
	payload, reason := e.buildStart(ctx, state, order)
	if reason != "" {
		return rejected(reason)
	}
	return e.apply("start_game", func(s *session) Reason {
		current := startingOrder(s.st)
		if reason := startCheck(s.st, current); reason != "" {
			return reason
		}
		if strings.Join(current, ",") != strings.Join(order, ",") {
			return ReasonRosterChanged
		}
		startGame(s, payload)
		return ""
	})
}

func startCheck(state State, order []string) Reason {
	if state.Game.Phase != PhaseWaiting {
		return ReasonWrongPhase
	}
	if len(order) < MinPlayers {
		return ReasonNotEnoughPlayers
	}
	return ""
}

// startingOrder is every non-spectator by join time, then id.
func startingOrder(state State) []string {
	players := make([]Player, 0, len(state.Players))
	for _, player := range state.Players {
		if player.PlayerType == PlayerTypeSpectator {
			continue
		}
		players = append(players, player)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].ID < players[j].ID
	})
	order := make([]string, 0, len(players))
	for _, player := range players {
		order = append(order, player.ID)
	}
	return order
}

func (e *Engine) buildStart(ctx context.Context, state State, order []string) (StartPayload, Reason) {
	packs := state.Settings.CardPacks
	whites, err := e.catalog.Cards(ctx, CardQuery{Color: ColorWhite, Packs: packs})
	if err != nil {
		log.Printf("card catalog failed color=white packs=%v error=%v", packs, err)
		return StartPayload{}, ReasonCatalogFailed
	}
	blacks, err := e.catalog.Cards(ctx, CardQuery{Color: ColorBlack, Packs: packs})
	if err != nil {
		log.Printf("card catalog failed color=black packs=%v error=%v", packs, err)
		return StartPayload{}, ReasonCatalogFailed
	}
	perPlayer := state.Settings.CardsPerPlayer
	if len(blacks) == 0 || len(whites) < perPlayer*(len(order)-1) {
		return StartPayload{}, ReasonNotEnoughCards
	}

	judge := order[0]
	if contains(order, state.Meta.HostIdentity) {
		judge = state.Meta.HostIdentity
	}
	cache := make(map[string]CardText, len(whites)+len(blacks))
	whiteIDs := make([]string, 0, len(whites))
	for _, card := range whites {
		cache[card.ID] = CardText{Text: card.Text, Pack: card.Pack}
		whiteIDs = append(whiteIDs, card.ID)
	}
	blackIDs := make([]string, 0, len(blacks))
	for _, card := range blacks {
		cache[card.ID] = CardText{Text: card.Text, Pack: card.Pack, Pick: card.Pick}
		blackIDs = append(blackIDs, card.ID)
	}
	shuffleIDs(whiteIDs, e.shuffle)
	shuffleIDs(blackIDs, e.shuffle)

	hands := make(map[string][]string, len(order))
	for _, id := range order {
		if id == judge {
			hands[id] = []string{}
			continue
		}
		hands[id] = append([]string{}, whiteIDs[:perPlayer]...)
		whiteIDs = whiteIDs[perPlayer:]
	}
	text := cache[blackIDs[0]]
	pick := text.Pick
	if pick < 1 {
		pick = 1
	}
	return StartPayload{
		JudgeID:     judge,
		BlackCard:   &BlackCard{ID: blackIDs[0], Text: text.Text, Pick: pick},
		PlayerOrder: order,
		Hands:       hands,
		Pools: CardPools{
			WhiteDeck:     whiteIDs,
			BlackDeck:     blackIDs[1:],
			DiscardWhite:  []string{},
			DiscardBlack:  []string{},
			CardTextCache: cache,
		},
	}, ""
}

// PlayCard records playerID's submission. The last required submission moves
// the round to submitting-complete and schedules judging after the hand-off.
func (e *Engine) PlayCard(playerID string, cards []string) Result {
	handedOff := false
	round := 0
	result := e.apply("play_card", func(s *session) Reason {
		if s.st.Game.Phase != PhaseSubmitting {
			return ReasonWrongPhase
		}
		if playerID == s.st.Game.JudgeID {
			return ReasonIsJudge
		}
		hand, ok := s.st.Hands[playerID]
		if !ok {
			return ReasonNotEligible
		}
		if _, done := s.st.Game.Submissions[playerID]; done {
			return ReasonAlreadySubmitted
		}
		if s.st.skipped(playerID) {
			return ReasonPlayerSkipped
		}
		if s.st.Game.BlackCard == nil {
			return ReasonNoBlackCard
		}
		if len(cards) != s.st.Game.BlackCard.Pick {
			return ReasonWrongCardCount
		}
		remaining, reason := takeCards(hand, cards)
		if reason != "" {
			return reason
		}
		s.setHand(playerID, remaining)
		s.setSubmission(playerID, append([]string{}, cards...))
		if s.st.SubmissionsComplete() {
			s.setPhase(PhaseSubmittingComplete)
			handedOff = true
			round = s.st.Game.Round
		}
		return ""
	})
	if result.Success && handedOff {
		e.afterFunc(e.handOff, func() {
			e.finishSubmitting(round)
		})
	}
	return result
}

func takeCards(hand, cards []string) ([]string, Reason) {
	picked := make(map[string]struct{}, len(cards))
	for _, id := range cards {
		if _, dup := picked[id]; dup {
			return nil, ReasonDuplicateCard
		}
		if !contains(hand, id) {
			return nil, ReasonCardNotInHand
		}
		picked[id] = struct{}{}
	}
	remaining := make([]string, 0, len(hand))
	for _, id := range hand {
		if _, ok := picked[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining, ""
}

func (e *Engine) finishSubmitting(round int) {
	result := e.apply("finish_submitting", func(s *session) Reason {
		if s.st.Game.Phase != PhaseSubmittingComplete || s.st.Game.Round != round {
			return ReasonWrongPhase
		}
		s.setPhase(PhaseJudging)
		return ""
	})
	if !result.Success && result.Reason != ReasonWrongPhase {
		log.Printf("submission hand-off failed round=%d reason=%s", round, result.Reason)
	}
}

// AdvanceToJudging moves a round whose submissions are all in to judging.
// It covers a hand-off timer that never fired and two final submissions that
// raced each other.
func (e *Engine) AdvanceToJudging() Result {
	return e.apply("advance_to_judging", func(s *session) Reason {
		switch s.st.Game.Phase {
		case PhaseSubmittingComplete:
		case PhaseSubmitting:
			if !s.st.SubmissionsComplete() {
				return ReasonSubmissionPending
			}
		default:
			return ReasonWrongPhase
		}
		s.setPhase(PhaseJudging)
		return ""
	})
}

func (e *Engine) RevealCard(playerID string) Result {
	return e.apply("reveal_card", func(s *session) Reason {
		if s.st.Game.Phase != PhaseJudging {
			return ReasonWrongPhase
		}
		if _, ok := s.st.Game.Submissions[playerID]; !ok {
			return ReasonNoSubmission
		}
		revealed := make(map[string]bool, len(s.st.Game.RevealedCards)+1)
		for id, value := range s.st.Game.RevealedCards {
			revealed[id] = value
		}
		revealed[playerID] = true
		s.setRevealed(revealed)
		return ""
	})
}

// SelectWinner scores the round. Every submitted card and the black card go
// to the discard piles; the game completes once a score reaches maxPoints.
func (e *Engine) SelectWinner(winnerID string) Result {
	return e.apply("select_winner", func(s *session) Reason {
		if s.st.Game.Phase != PhaseJudging {
			return ReasonWrongPhase
		}
		winning, ok := s.st.Game.Submissions[winnerID]
		if !ok {
			return ReasonNoSubmission
		}
		winning = append([]string{}, winning...)
		scores := make(map[string]int, len(s.st.Game.Scores)+1)
		best := 0
		for id, points := range s.st.Game.Scores {
			scores[id] = points
		}
		scores[winnerID]++
		for _, points := range scores {
			if points > best {
				best = points
			}
		}
		answers := make([]string, 0, len(winning))
		for _, id := range winning {
			answers = append(answers, s.st.Pools.CardTextCache[id].Text)
		}
		readAloud := ""
		if s.st.Game.BlackCard != nil {
			readAloud = fillBlanks(s.st.Game.BlackCard.Text, answers)
		}
		s.setScores(scores)
		s.setRoundWinner(winnerID, winning, readAloud)
		s.discardSubmissions()
		s.discardBlackCard()
		s.savePools()

		winner := winnerID
		if player, ok := s.st.Players[winnerID]; ok {
			winner = player.Name
		}
		if best >= s.st.Settings.MaxPoints {
			s.setPhase(PhaseComplete)
			s.st.Game.GameEndTime = s.now
			s.setGame(keyGameEndTime, s.now)
			s.setStatus(StatusComplete)
			s.systemChat(fmt.Sprintf("%s won the game!", winner))
			return ""
		}
		s.setPhase(PhaseRoundEnd)
		s.st.Game.RoundEndStartTime = s.now
		s.setGame(keyRoundEndStartTime, s.now)
		s.systemChat(fmt.Sprintf("%s won round %d", winner, s.st.Game.Round))
		return ""
	})
}

var blankPattern = regexp.MustCompile(`_+`)

// fillBlanks substitutes answers into the prompt's blanks in order. A prompt
// without blanks gets the answers appended.
func fillBlanks(prompt string, answers []string) string {
	used := 0
	filled := blankPattern.ReplaceAllStringFunc(prompt, func(blank string) string {
		if used >= len(answers) {
			return blank
		}
		answer := strings.TrimSuffix(strings.TrimSpace(answers[used]), ".")
		used++
		return answer
	})
	if used == 0 && len(answers) > 0 {
		return strings.TrimSpace(prompt) + " " + strings.Join(answers, " ")
	}
	return filled
}

// NextRound rotates the judge, draws the next prompt and refills hands. With
// no hand holder left to judge the session falls back to waiting.
func (e *Engine) NextRound() Result {
	return e.apply("next_round", func(s *session) Reason {
		if s.st.Game.Phase != PhaseRoundEnd {
			return ReasonWrongPhase
		}
		judge := nextJudge(s.st.Game.PlayerOrder, s.st.Game.JudgeID, s.st.Hands)
		if judge == "" {
			returnToLobby(s)
			return ""
		}
		s.st.Game.Round++
		s.setGame(keyRound, s.st.Game.Round)
		return beginRound(s, judge, e.shuffle)
	})
}

// beginRound installs judge, draws a prompt, refills hands and opens
// submissions. Leftover round cards are discarded first.
func beginRound(s *session, judge string, shuffle Shuffler) Reason {
	s.discardSubmissions()
	s.discardBlackCard()
	s.setJudge(judge)
	black := s.drawBlack(shuffle)
	if black == nil {
		return ReasonNotEnoughCards
	}
	s.setBlackCard(black)
	s.refillHands(shuffle)
	s.savePools()
	s.setRoundWinner("", []string{}, "")
	s.setSkipped([]string{})
	s.setRevealed(map[string]bool{})
	s.st.Game.RoundEndStartTime = 0
	s.setGame(keyRoundEndStartTime, 0)
	s.setPhase(PhaseSubmitting)
	return ""
}

// returnToLobby abandons the round. Submitted cards go back to their owners
// and the prompt is discarded.
func returnToLobby(s *session) {
	for _, id := range sortedKeys(s.st.Game.Submissions) {
		cards := s.st.Game.Submissions[id]
		if hand, ok := s.st.Hands[id]; ok {
			s.setHand(id, append(append([]string{}, hand...), cards...))
		} else {
			s.st.Pools.DiscardWhite = append(s.st.Pools.DiscardWhite, cards...)
		}
		s.deleteSubmission(id)
	}
	s.discardBlackCard()
	s.savePools()
	s.setSkipped([]string{})
	s.setRevealed(map[string]bool{})
	s.setPhase(PhaseWaiting)
	s.setStatus(StatusWaiting)
	s.systemChat("Not enough players to continue, back to the lobby")
}

// voidRound ends the round with no winner.
func voidRound(s *session) {
	s.discardSubmissions()
	s.discardBlackCard()
	s.savePools()
	s.setRoundWinner("", []string{}, "")
	s.setPhase(PhaseRoundEnd)
	s.st.Game.RoundEndStartTime = s.now
	s.setGame(keyRoundEndStartTime, s.now)
}

// settleSubmitting re-evaluates a submitting round after the set of required
// submitters shrank.
func settleSubmitting(s *session) {
	if s.st.Game.Phase != PhaseSubmitting {
		return
	}
	if len(s.st.RequiredSubmitters()) == 0 {
		voidRound(s)
		return
	}
	if s.st.SubmissionsComplete() {
		s.setPhase(PhaseJudging)
	}
}

// SkipPlayer excuses playerID from this round. A card they already played
// goes back to their hand.
func (e *Engine) SkipPlayer(playerID string) Result {
	return e.apply("skip_player", func(s *session) Reason {
		if s.st.Game.Phase != PhaseSubmitting {
			return ReasonWrongPhase
		}
		if playerID == s.st.Game.JudgeID {
			return ReasonIsJudge
		}
		hand, ok := s.st.Hands[playerID]
		if !ok {
			return ReasonNotEligible
		}
		if s.st.skipped(playerID) {
			return ReasonPlayerSkipped
		}
		if cards, ok := s.st.Game.Submissions[playerID]; ok {
			s.setHand(playerID, append(append([]string{}, hand...), cards...))
			s.deleteSubmission(playerID)
		}
		s.setSkipped(append(append([]string{}, s.st.Game.SkippedPlayers...), playerID))
		settleSubmitting(s)
		return ""
	})
}

// SkipJudge abandons judging: the round's cards are discarded unscored.
func (e *Engine) SkipJudge() Result {
	return e.apply("skip_judge", func(s *session) Reason {
		if s.st.Game.Phase != PhaseJudging {
			return ReasonWrongPhase
		}
		voidRound(s)
		return ""
	})
}

func (e *Engine) ConvertToPlayer(playerID string) Result {
	return e.apply("convert_to_player", func(s *session) Reason {
		player, ok := s.st.Players[playerID]
		if !ok {
			return ReasonUnknownPlayer
		}
		if player.PlayerType != PlayerTypeSpectator {
			return ReasonNotSpectator
		}
		player.PlayerType = PlayerTypePlayer
		s.savePlayer(player)
		s.systemChat(fmt.Sprintf("%s joined the players", player.Name))
		return ""
	})
}

// DealIn gives a player who joined mid-game a hand so they take part from
// the current round on.
func (e *Engine) DealIn(playerID string) Result {
	return e.apply("deal_in", func(s *session) Reason {
		if !inPlay(s.st.Game.Phase) {
			return ReasonWrongPhase
		}
		player, ok := s.st.Players[playerID]
		if !ok {
			return ReasonUnknownPlayer
		}
		if player.PlayerType == PlayerTypeSpectator {
			return ReasonNotEligible
		}
		if _, dealt := s.st.Hands[playerID]; dealt {
			return ReasonAlreadyDealt
		}
		s.setHand(playerID, []string{})
		s.refillHand(playerID, s.st.Settings.CardsPerPlayer, e.shuffle)
		s.savePools()
		if _, scored := s.st.Game.Scores[playerID]; !scored {
			scores := make(map[string]int, len(s.st.Game.Scores)+1)
			for id, points := range s.st.Game.Scores {
				scores[id] = points
			}
			scores[playerID] = 0
			s.setScores(scores)
		}
		return ""
	})
}

func inPlay(phase Phase) bool {
	return phase != PhaseWaiting && phase != PhaseComplete
}

// HandlePlayerLeave takes a departed player out of the running round.
func (e *Engine) HandlePlayerLeave(playerID string) Result {
	return e.apply("player_leave", func(s *session) Reason {
		return handleLeave(s, playerID, e.shuffle)
	})
}

func handleLeave(s *session, playerID string, shuffle Shuffler) Reason {
	if !inPlay(s.st.Game.Phase) {
		return ReasonWrongPhase
	}
	order := s.st.Game.PlayerOrder
	if hand, ok := s.st.Hands[playerID]; ok {
		s.st.Pools.DiscardWhite = append(s.st.Pools.DiscardWhite, hand...)
		s.deleteHand(playerID)
	}
	if cards, ok := s.st.Game.Submissions[playerID]; ok {
		s.st.Pools.DiscardWhite = append(s.st.Pools.DiscardWhite, cards...)
		s.deleteSubmission(playerID)
	}
	s.savePools()
	if s.st.skipped(playerID) {
		s.setSkipped(without(s.st.Game.SkippedPlayers, playerID))
	}
	if _, ok := s.st.Game.RevealedCards[playerID]; ok {
		revealed := make(map[string]bool, len(s.st.Game.RevealedCards))
		for id, value := range s.st.Game.RevealedCards {
			if id != playerID {
				revealed[id] = value
			}
		}
		s.setRevealed(revealed)
	}
	if contains(order, playerID) {
		s.setPlayerOrder(without(order, playerID))
	}

	if len(s.st.Hands) < MinPlayers {
		returnToLobby(s)
		return ""
	}
	if playerID == s.st.Game.JudgeID {
		judge := nextJudge(order, playerID, s.st.Hands)
		if judge == "" {
			returnToLobby(s)
			return ""
		}
		return beginRound(s, judge, shuffle)
	}
	if s.st.Game.Phase == PhaseJudging && len(s.st.Game.Submissions) == 0 {
		voidRound(s)
		return ""
	}
	settleSubmitting(s)
	return ""
}

// ResetGame clears the game back to the lobby. Running it twice leaves the
// same state as running it once.
func (e *Engine) ResetGame() Result {
	return e.apply("reset_game", func(s *session) Reason {
		resetRound(s)
		s.setStatus(StatusWaiting)
		return ""
	})
}

func (e *Engine) MarkReturnedToLobby(playerID string) Result {
	return e.apply("returned_to_lobby", func(s *session) Reason {
		if s.st.Game.Phase != PhaseComplete {
			return ReasonWrongPhase
		}
		if _, ok := s.st.Players[playerID]; !ok {
			return ReasonUnknownPlayer
		}
		s.st.Game.ReturnedToLobby[playerID] = true
		s.tx.Set(CollectionReturned, playerID, true)
		return ""
	})
}

// KickPlayer lets the host remove another player, handling their departure
// from a running round first.
func (e *Engine) KickPlayer(hostID, targetID string) Result {
	return e.apply("kick_player", func(s *session) Reason {
		if s.st.Meta.HostIdentity != hostID {
			return ReasonNotHost
		}
		if hostID == targetID {
			return ReasonCannotKickSelf
		}
		target, ok := s.st.Players[targetID]
		if !ok {
			return ReasonUnknownPlayer
		}
		if inPlay(s.st.Game.Phase) {
			if reason := handleLeave(s, targetID, e.shuffle); reason != "" {
				return reason
			}
		}
		dropPlayer(s, targetID)
		s.systemChat(fmt.Sprintf("%s was removed by the host", target.Name))
		return ""
	})
}

// Leave removes playerID from the session. A departing host hands the role
// to the longest-present remaining human.
func (e *Engine) Leave(playerID string) Result {
	return e.apply("leave", func(s *session) Reason {
		player, ok := s.st.Players[playerID]
		if !ok {
			return ReasonUnknownPlayer
		}
		if inPlay(s.st.Game.Phase) {
			if reason := handleLeave(s, playerID, e.shuffle); reason != "" {
				return reason
			}
		}
		removePlayer(s, playerID, player.Name)
		if player.IsHost || s.st.Meta.HostIdentity == playerID {
			if next := nextHost(s.st); next != "" {
				if err := transferHost(s, next); err != nil {
					return ReasonUnknownPlayer
				}
			}
		}
		return ""
	})
}

func nextHost(state State) string {
	best := ""
	var bestJoined int64
	for _, id := range sortedKeys(state.Players) {
		player := state.Players[id]
		if player.PlayerType == PlayerTypeBot {
			continue
		}
		if best == "" || player.JoinedAt < bestJoined {
			best = id
			bestJoined = player.JoinedAt
		}
	}
	return best
}
