package game

const (
	CollectionMeta        = "meta"
	CollectionSettings    = "settings"
	CollectionGame        = "game"
	CollectionPools       = "pools"
	CollectionHands       = "hands"
	CollectionSubmissions = "submissions"
	CollectionReturned    = "returned"
	CollectionPlayers     = "players"
	CollectionChat        = "chat"
)

const (
	keyCode         = "code"
	keyHostIdentity = "hostIdentity"
	keyStatus       = "status"
	keyCreatedAt    = "createdAt"

	keyMaxPoints      = "maxPoints"
	keyCardsPerPlayer = "cardsPerPlayer"
	keyCardPacks      = "cardPacks"
	keyIsPrivate      = "isPrivate"
	keyLobbyName      = "lobbyName"
	keyRoundCountdown = "roundEndCountdownSeconds"

	keyPhase             = "phase"
	keyRound             = "round"
	keyJudgeID           = "judgeId"
	keyBlackCard         = "blackCard"
	keyScores            = "scores"
	keyRoundWinner       = "roundWinner"
	keyWinningCards      = "winningCards"
	keySkippedPlayers    = "skippedPlayers"
	keyRevealedCards     = "revealedCards"
	keyReadAloudText     = "readAloudText"
	keyGameEndTime       = "gameEndTime"
	keyRoundEndStartTime = "roundEndStartTime"
	keyPlayerOrder       = "playerOrder"

	keyWhiteDeck     = "whiteDeck"
	keyBlackDeck     = "blackDeck"
	keyDiscardWhite  = "discardWhite"
	keyDiscardBlack  = "discardBlack"
	keyCardTextCache = "cardTextCache"
)

type Phase string

const (
	PhaseWaiting            Phase = "waiting"
	PhaseSubmitting         Phase = "submitting"
	PhaseSubmittingComplete Phase = "submitting-complete"
	PhaseJudging            Phase = "judging"
	PhaseRoundEnd           Phase = "roundEnd"
	PhaseComplete           Phase = "complete"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusComplete Status = "complete"
)

type PlayerType string

const (
	PlayerTypePlayer    PlayerType = "player"
	PlayerTypeSpectator PlayerType = "spectator"
	PlayerTypeBot       PlayerType = "bot"
)

const (
	MinPlayers            = 3
	DefaultMaxPoints      = 8
	DefaultCardsPerPlayer = 10
	DefaultRoundCountdown = 10
	DefaultPack           = "base"
)

type SessionMeta struct {
	Code         string `json:"code"`
	HostIdentity string `json:"hostIdentity"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
}

type Settings struct {
	MaxPoints                int      `json:"maxPoints" validate:"min=1,max=100"`
	CardsPerPlayer           int      `json:"cardsPerPlayer" validate:"min=1,max=20"`
	CardPacks                []string `json:"cardPacks"`
	IsPrivate                bool     `json:"isPrivate"`
	LobbyName                string   `json:"lobbyName" validate:"max=64"`
	RoundEndCountdownSeconds int      `json:"roundEndCountdownSeconds" validate:"min=0,max=300"`
}

// SettingsPatch carries only the keys the host changed.
type SettingsPatch struct {
	MaxPoints                *int
	CardsPerPlayer           *int
	CardPacks                []string
	IsPrivate                *bool
	LobbyName                *string
	RoundEndCountdownSeconds *int
}

func DefaultSettings() Settings {
	return Settings{
		MaxPoints:                DefaultMaxPoints,
		CardsPerPlayer:           DefaultCardsPerPlayer,
		CardPacks:                []string{DefaultPack},
		RoundEndCountdownSeconds: DefaultRoundCountdown,
	}
}

type BlackCard struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text"`
	Pick int    `json:"pick" validate:"min=1,max=3"`
}

type CardText struct {
	Text string `json:"text"`
	Pack string `json:"pack"`
	Pick int    `json:"pick,omitempty"`
}

type GameState struct {
	Phase             Phase               `json:"phase"`
	Round             int                 `json:"round"`
	JudgeID           string              `json:"judgeId"`
	BlackCard         *BlackCard          `json:"blackCard"`
	Submissions       map[string][]string `json:"submissions"`
	Scores            map[string]int      `json:"scores"`
	RoundWinner       string              `json:"roundWinner"`
	WinningCards      []string            `json:"winningCards"`
	SkippedPlayers    []string            `json:"skippedPlayers"`
	RevealedCards     map[string]bool     `json:"revealedCards"`
	ReadAloudText     string              `json:"readAloudText"`
	GameEndTime       int64               `json:"gameEndTime"`
	RoundEndStartTime int64               `json:"roundEndStartTime"`
	ReturnedToLobby   map[string]bool     `json:"returnedToLobby"`
	PlayerOrder       []string            `json:"playerOrder"`
}

type CardPools struct {
	WhiteDeck     []string            `json:"whiteDeck"`
	BlackDeck     []string            `json:"blackDeck"`
	DiscardWhite  []string            `json:"discardWhite"`
	DiscardBlack  []string            `json:"discardBlack"`
	CardTextCache map[string]CardText `json:"cardTextCache"`
}

type Player struct {
	ID         string     `json:"id" validate:"required"`
	Name       string     `json:"name" validate:"required,max=64"`
	Avatar     string     `json:"avatar,omitempty"`
	IsHost     bool       `json:"isHost"`
	JoinedAt   int64      `json:"joinedAt"`
	Provider   string     `json:"provider,omitempty"`
	PlayerType PlayerType `json:"playerType" validate:"oneof=player spectator bot"`
}

type ChatEntry struct {
	ID        string `json:"id"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsSystem  bool   `json:"isSystem"`
}

// State is every sub-collection of one session document, decoded.
type State struct {
	Meta     SessionMeta
	Settings Settings
	Game     GameState
	Pools    CardPools
	Hands    map[string][]string
	Players  map[string]Player
	Chat     []ChatEntry
}

func (s State) Player(id string) (Player, bool) {
	p, ok := s.Players[id]
	return p, ok
}

// Eligible reports whether id currently holds a hand, which is what makes a
// player part of the round.
func (s State) Eligible(id string) bool {
	_, ok := s.Hands[id]
	return ok
}

func (s State) skipped(id string) bool {
	for _, skipped := range s.Game.SkippedPlayers {
		if skipped == id {
			return true
		}
	}
	return false
}

// RequiredSubmitters lists hand holders expected to play this round.
func (s State) RequiredSubmitters() []string {
	out := make([]string, 0, len(s.Hands))
	for _, id := range sortedKeys(s.Hands) {
		if id == s.Game.JudgeID || s.skipped(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// SubmissionsComplete reports whether every required submitter has played.
func (s State) SubmissionsComplete() bool {
	required := s.RequiredSubmitters()
	if len(required) == 0 {
		return false
	}
	for _, id := range required {
		if _, ok := s.Game.Submissions[id]; !ok {
			return false
		}
	}
	return true
}
