package game

import (
	"errors"
	"fmt"
	"strings"

	"party-cards/internal/common/clock"
	"party-cards/internal/doc"
)

var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrInvalidPlayer      = errors.New("invalid player")
)

// Mutations are the structural writes on a session document. Each one is a
// single transaction, so observers never see it half applied.
type Mutations struct {
	doc   *doc.Document
	clock clock.Clock
}

func NewMutations(d *doc.Document, c clock.Clock) *Mutations {
	if c == nil {
		c = &clock.DefaultClock{}
	}
	return &Mutations{doc: d, clock: c}
}

func (m *Mutations) now() int64 {
	return m.clock.Now().UnixMilli()
}

func (m *Mutations) transact(fn func(s *session) error) error {
	now := m.now()
	_, err := m.doc.Transact(func(tx *doc.Tx) error {
		return fn(newSession(tx, now))
	})
	return err
}

type InitPayload struct {
	Code     string
	Host     Player
	Settings *Settings
}

// InitializeSession creates the session in the waiting state with the host
// as its only player.
func (m *Mutations) InitializeSession(payload InitPayload) error {
	host := payload.Host
	host.IsHost = true
	if host.PlayerType == "" {
		host.PlayerType = PlayerTypePlayer
	}
	if err := validatorInstance().Struct(host); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlayer, err)
	}
	settings := DefaultSettings()
	if payload.Settings != nil {
		settings = *payload.Settings
		if err := validatorInstance().Struct(settings); err != nil {
			return err
		}
	}
	return m.transact(func(s *session) error {
		if _, ok := s.tx.Get(CollectionMeta, keyCode); ok {
			return ErrAlreadyInitialized
		}
		if host.JoinedAt == 0 {
			host.JoinedAt = s.now
		}
		s.tx.Set(CollectionMeta, keyCode, payload.Code)
		s.tx.Set(CollectionMeta, keyHostIdentity, host.ID)
		s.tx.Set(CollectionMeta, keyCreatedAt, s.now)
		s.setStatus(StatusWaiting)
		writeSettings(s, settings)
		resetRound(s)
		s.savePlayer(host)
		s.systemChat(fmt.Sprintf("%s created the game", host.Name))
		return nil
	})
}

func writeSettings(s *session, settings Settings) {
	s.st.Settings = settings
	s.tx.Set(CollectionSettings, keyMaxPoints, settings.MaxPoints)
	s.tx.Set(CollectionSettings, keyCardsPerPlayer, settings.CardsPerPlayer)
	s.tx.Set(CollectionSettings, keyCardPacks, nonNil(settings.CardPacks))
	s.tx.Set(CollectionSettings, keyIsPrivate, settings.IsPrivate)
	s.tx.Set(CollectionSettings, keyLobbyName, settings.LobbyName)
	s.tx.Set(CollectionSettings, keyRoundCountdown, settings.RoundEndCountdownSeconds)
}

// AddPlayer upserts a roster entry. A returning player keeps their join time.
func (m *Mutations) AddPlayer(player Player) error {
	if player.PlayerType == "" {
		player.PlayerType = PlayerTypePlayer
	}
	if err := validatorInstance().Struct(player); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlayer, err)
	}
	return m.transact(func(s *session) error {
		addPlayer(s, player)
		return nil
	})
}

func addPlayer(s *session, player Player) {
	existing, rejoin := s.st.Players[player.ID]
	if rejoin {
		player.JoinedAt = existing.JoinedAt
		player.IsHost = existing.IsHost
	} else if player.JoinedAt == 0 {
		player.JoinedAt = s.now
	}
	s.savePlayer(player)
	if !rejoin {
		s.systemChat(fmt.Sprintf("%s joined the game", player.Name))
	}
}

// RemovePlayer deletes the roster and hand entries for id. Cards still in
// the hand go to the white discard pile. name overrides the roster name in
// the chat entry.
func (m *Mutations) RemovePlayer(id, name string) error {
	return m.transact(func(s *session) error {
		removePlayer(s, id, name)
		return nil
	})
}

func removePlayer(s *session, id, name string) {
	if name == "" {
		if player, ok := s.st.Players[id]; ok {
			name = player.Name
		} else {
			name = id
		}
	}
	dropPlayer(s, id)
	s.systemChat(fmt.Sprintf("%s left the game", name))
}

func dropPlayer(s *session, id string) {
	if hand, ok := s.st.Hands[id]; ok {
		s.st.Pools.DiscardWhite = append(s.st.Pools.DiscardWhite, hand...)
		s.deleteHand(id)
		s.savePools()
	}
	s.deletePlayer(id)
}

// UpdateSettings writes only the keys present in patch.
func (m *Mutations) UpdateSettings(patch SettingsPatch) error {
	return m.transact(func(s *session) error {
		merged := s.st.Settings
		if patch.MaxPoints != nil {
			merged.MaxPoints = *patch.MaxPoints
		}
		if patch.CardsPerPlayer != nil {
			merged.CardsPerPlayer = *patch.CardsPerPlayer
		}
		if patch.CardPacks != nil {
			merged.CardPacks = patch.CardPacks
		}
		if patch.IsPrivate != nil {
			merged.IsPrivate = *patch.IsPrivate
		}
		if patch.LobbyName != nil {
			merged.LobbyName = strings.TrimSpace(*patch.LobbyName)
		}
		if patch.RoundEndCountdownSeconds != nil {
			merged.RoundEndCountdownSeconds = *patch.RoundEndCountdownSeconds
		}
		if err := validatorInstance().Struct(merged); err != nil {
			return err
		}
		if patch.MaxPoints != nil {
			s.tx.Set(CollectionSettings, keyMaxPoints, merged.MaxPoints)
		}
		if patch.CardsPerPlayer != nil {
			s.tx.Set(CollectionSettings, keyCardsPerPlayer, merged.CardsPerPlayer)
		}
		if patch.CardPacks != nil {
			s.tx.Set(CollectionSettings, keyCardPacks, merged.CardPacks)
		}
		if patch.IsPrivate != nil {
			s.tx.Set(CollectionSettings, keyIsPrivate, merged.IsPrivate)
		}
		if patch.LobbyName != nil {
			s.tx.Set(CollectionSettings, keyLobbyName, merged.LobbyName)
		}
		if patch.RoundEndCountdownSeconds != nil {
			s.tx.Set(CollectionSettings, keyRoundCountdown, merged.RoundEndCountdownSeconds)
		}
		s.st.Settings = merged
		return nil
	})
}

// StartPayload is everything the first round needs, computed before the
// transaction opens.
type StartPayload struct {
	JudgeID     string
	BlackCard   *BlackCard
	PlayerOrder []string
	Pools       CardPools
	Hands       map[string][]string
}

func (m *Mutations) StartGame(payload StartPayload) error {
	return m.transact(func(s *session) error {
		startGame(s, payload)
		return nil
	})
}

func startGame(s *session, payload StartPayload) {
	resetRound(s)
	s.setStatus(StatusPlaying)
	s.setPhase(PhaseSubmitting)
	s.st.Game.Round = 1
	s.setGame(keyRound, 1)
	s.setJudge(payload.JudgeID)
	s.setBlackCard(payload.BlackCard)
	scores := make(map[string]int, len(payload.PlayerOrder))
	for _, id := range payload.PlayerOrder {
		scores[id] = 0
	}
	s.setScores(scores)
	s.setPlayerOrder(payload.PlayerOrder)
	s.st.Pools = payload.Pools
	s.savePools()
	s.tx.Set(CollectionPools, keyCardTextCache, payload.Pools.CardTextCache)
	for _, id := range sortedKeys(payload.Hands) {
		s.setHand(id, payload.Hands[id])
	}
	s.systemChat(fmt.Sprintf("Round 1 started with %d players", len(payload.PlayerOrder)))
}

// resetRound clears every game-scoped field, the pools and all hands.
func resetRound(s *session) {
	s.setPhase(PhaseWaiting)
	s.st.Game.Round = 0
	s.setGame(keyRound, 0)
	s.setJudge("")
	s.setBlackCard(nil)
	s.setScores(map[string]int{})
	s.setRoundWinner("", []string{}, "")
	s.setSkipped([]string{})
	s.setRevealed(map[string]bool{})
	s.st.Game.GameEndTime = 0
	s.setGame(keyGameEndTime, 0)
	s.st.Game.RoundEndStartTime = 0
	s.setGame(keyRoundEndStartTime, 0)
	s.setPlayerOrder([]string{})
	s.clearSubmissions()
	s.clearReturned()
	for _, id := range sortedKeys(s.st.Hands) {
		s.deleteHand(id)
	}
	s.st.Pools = CardPools{CardTextCache: map[string]CardText{}}
	s.savePools()
	s.tx.Set(CollectionPools, keyCardTextCache, s.st.Pools.CardTextCache)
}

func (m *Mutations) SetSessionStatus(status Status) error {
	if err := validatorInstance().Var(status, "oneof=waiting playing complete"); err != nil {
		return err
	}
	return m.transact(func(s *session) error {
		s.setStatus(status)
		return nil
	})
}

// TransferHost moves the host flag and meta.hostIdentity to newHostID.
func (m *Mutations) TransferHost(newHostID string) error {
	return m.transact(func(s *session) error {
		return transferHost(s, newHostID)
	})
}

func transferHost(s *session, newHostID string) error {
	next, ok := s.st.Players[newHostID]
	if !ok {
		return ErrUnknownPlayer
	}
	for _, id := range sortedKeys(s.st.Players) {
		player := s.st.Players[id]
		if player.IsHost && id != newHostID {
			player.IsHost = false
			s.savePlayer(player)
		}
	}
	if !next.IsHost {
		next.IsHost = true
		s.savePlayer(next)
	}
	s.st.Meta.HostIdentity = newHostID
	s.tx.Set(CollectionMeta, keyHostIdentity, newHostID)
	s.systemChat(fmt.Sprintf("%s is now the host", next.Name))
	return nil
}
