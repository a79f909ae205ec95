package game

import (
	"encoding/json"
	"log"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"party-cards/internal/doc"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	fallbacks    atomic.Int64
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodeFallbacks counts registers that failed to decode or validate and
// were replaced by their default.
func DecodeFallbacks() int64 {
	return fallbacks.Load()
}

// decodeField reads collection/key as T. A missing register yields fallback
// silently; a malformed or invalid one yields fallback and is logged and
// counted. tag, when set, is checked with validator.Var.
func decodeField[T any](r doc.Reader, collection, key string, fallback T, tag string) T {
	raw, ok := r.Get(collection, key)
	if !ok {
		return fallback
	}
	return decodeRaw(raw, collection, key, fallback, tag)
}

func decodeRaw[T any](raw json.RawMessage, collection, key string, fallback T, tag string) T {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		recordFallback(collection, key, err)
		return fallback
	}
	if err := validateValue(value, tag); err != nil {
		recordFallback(collection, key, err)
		return fallback
	}
	return value
}

func validateValue(value any, tag string) error {
	v := validatorInstance()
	if tag != "" {
		return v.Var(value, tag)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		return v.Struct(rv.Interface())
	}
	return nil
}

func recordFallback(collection, key string, err error) {
	fallbacks.Add(1)
	log.Printf("register decode fallback collection=%s key=%s error=%v", collection, key, err)
}

// Load decodes every sub-collection. It never fails; corrupt registers
// degrade to neutral values.
func Load(r doc.Reader) State {
	defaults := DefaultSettings()
	state := State{
		Meta: SessionMeta{
			Code:         decodeField(r, CollectionMeta, keyCode, "", ""),
			HostIdentity: decodeField(r, CollectionMeta, keyHostIdentity, "", ""),
			Status:       decodeField(r, CollectionMeta, keyStatus, StatusWaiting, "oneof=waiting playing complete"),
			CreatedAt:    decodeField(r, CollectionMeta, keyCreatedAt, int64(0), ""),
		},
		Settings: Settings{
			MaxPoints:                decodeField(r, CollectionSettings, keyMaxPoints, defaults.MaxPoints, "min=1,max=100"),
			CardsPerPlayer:           decodeField(r, CollectionSettings, keyCardsPerPlayer, defaults.CardsPerPlayer, "min=1,max=20"),
			CardPacks:                decodeField(r, CollectionSettings, keyCardPacks, defaults.CardPacks, "dive,required"),
			IsPrivate:                decodeField(r, CollectionSettings, keyIsPrivate, false, ""),
			LobbyName:                decodeField(r, CollectionSettings, keyLobbyName, "", "max=64"),
			RoundEndCountdownSeconds: decodeField(r, CollectionSettings, keyRoundCountdown, defaults.RoundEndCountdownSeconds, "min=0,max=300"),
		},
		Game: GameState{
			Phase:             decodeField(r, CollectionGame, keyPhase, PhaseWaiting, "oneof=waiting submitting submitting-complete judging roundEnd complete"),
			Round:             decodeField(r, CollectionGame, keyRound, 0, "min=0"),
			JudgeID:           decodeField(r, CollectionGame, keyJudgeID, "", ""),
			BlackCard:         decodeField[*BlackCard](r, CollectionGame, keyBlackCard, nil, ""),
			Scores:            decodeField(r, CollectionGame, keyScores, map[string]int{}, ""),
			RoundWinner:       decodeField(r, CollectionGame, keyRoundWinner, "", ""),
			WinningCards:      decodeField(r, CollectionGame, keyWinningCards, []string{}, ""),
			SkippedPlayers:    decodeField(r, CollectionGame, keySkippedPlayers, []string{}, ""),
			RevealedCards:     decodeField(r, CollectionGame, keyRevealedCards, map[string]bool{}, ""),
			ReadAloudText:     decodeField(r, CollectionGame, keyReadAloudText, "", ""),
			GameEndTime:       decodeField(r, CollectionGame, keyGameEndTime, int64(0), ""),
			RoundEndStartTime: decodeField(r, CollectionGame, keyRoundEndStartTime, int64(0), ""),
			PlayerOrder:       decodeField(r, CollectionGame, keyPlayerOrder, []string{}, ""),
			Submissions:       map[string][]string{},
			ReturnedToLobby:   map[string]bool{},
		},
		Pools: CardPools{
			WhiteDeck:     decodeField(r, CollectionPools, keyWhiteDeck, []string{}, ""),
			BlackDeck:     decodeField(r, CollectionPools, keyBlackDeck, []string{}, ""),
			DiscardWhite:  decodeField(r, CollectionPools, keyDiscardWhite, []string{}, ""),
			DiscardBlack:  decodeField(r, CollectionPools, keyDiscardBlack, []string{}, ""),
			CardTextCache: decodeField(r, CollectionPools, keyCardTextCache, map[string]CardText{}, ""),
		},
		Hands:   map[string][]string{},
		Players: map[string]Player{},
	}
	for _, id := range r.Keys(CollectionSubmissions) {
		raw, _ := r.Get(CollectionSubmissions, id)
		if cards := decodeRaw[[]string](raw, CollectionSubmissions, id, nil, "min=1,dive,required"); cards != nil {
			state.Game.Submissions[id] = cards
		}
	}
	for _, id := range r.Keys(CollectionReturned) {
		raw, _ := r.Get(CollectionReturned, id)
		if decodeRaw(raw, CollectionReturned, id, false, "") {
			state.Game.ReturnedToLobby[id] = true
		}
	}
	for _, id := range r.Keys(CollectionHands) {
		raw, _ := r.Get(CollectionHands, id)
		state.Hands[id] = decodeRaw(raw, CollectionHands, id, []string{}, "dive,required")
	}
	for _, id := range r.Keys(CollectionPlayers) {
		raw, _ := r.Get(CollectionPlayers, id)
		player := decodeRaw(raw, CollectionPlayers, id, Player{}, "")
		if player.ID == "" {
			continue
		}
		player.ID = id
		state.Players[id] = player
	}
	for _, item := range r.List(CollectionChat) {
		entry := decodeRaw(item.Value, CollectionChat, item.ID, ChatEntry{}, "")
		if entry.Text == "" {
			continue
		}
		if entry.ID == "" {
			entry.ID = item.ID
		}
		state.Chat = append(state.Chat, entry)
	}
	return state
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
