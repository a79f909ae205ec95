package game

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"strings"
)

type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

var ErrUnknownPack = errors.New("unknown card pack")

type Card struct {
	ID    string
	Color Color
	Text  string
	Pack  string
	Pick  int
}

// CardQuery asks for Count unique cards from Packs. Pick filters black cards
// by blank count; zero accepts any. Count <= 0 returns every match.
type CardQuery struct {
	Color Color
	Packs []string
	Pick  int
	Count int
}

// Catalog is the card-catalog collaborator consulted when a game starts.
type Catalog interface {
	Cards(ctx context.Context, query CardQuery) ([]Card, error)
}

type Pack struct {
	Name  string
	Cards []Card
}

type StaticCatalog struct {
	packs map[string]Pack
}

func NewStaticCatalog(packs ...Pack) *StaticCatalog {
	c := &StaticCatalog{packs: make(map[string]Pack, len(packs))}
	for _, pack := range packs {
		existing := c.packs[pack.Name]
		existing.Name = pack.Name
		existing.Cards = append(existing.Cards, pack.Cards...)
		c.packs[pack.Name] = existing
	}
	return c
}

func (c *StaticCatalog) PackNames() []string {
	return sortedKeys(c.packs)
}

func (c *StaticCatalog) Cards(ctx context.Context, query CardQuery) ([]Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	packs := query.Packs
	if len(packs) == 0 {
		packs = c.PackNames()
	}
	seen := make(map[string]struct{})
	var out []Card
	for _, name := range packs {
		pack, ok := c.packs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPack, name)
		}
		for _, card := range pack.Cards {
			if card.Color != query.Color {
				continue
			}
			if query.Color == ColorBlack && query.Pick > 0 && card.Pick != query.Pick {
				continue
			}
			if _, dup := seen[card.ID]; dup {
				continue
			}
			seen[card.ID] = struct{}{}
			out = append(out, card)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if query.Count > 0 && len(out) > query.Count {
		out = out[:query.Count]
	}
	return out, nil
}

// ReadPacksCSV parses rows of pack,color,pick,text (header row skipped).
// Card ids are derived from pack, color and row position.
func ReadPacksCSV(r io.Reader) ([]Pack, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Pack)
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue
		}
		name := strings.TrimSpace(row[0])
		color := Color(strings.ToLower(strings.TrimSpace(row[1])))
		text := strings.TrimSpace(row[3])
		if name == "" || text == "" {
			continue
		}
		if color != ColorWhite && color != ColorBlack {
			return nil, fmt.Errorf("row %d: unknown color %q", i+1, row[1])
		}
		pick := 0
		if color == ColorBlack {
			pick = 1
			if raw := strings.TrimSpace(row[2]); raw != "" {
				value, err := strconv.Atoi(raw)
				if err != nil || value < 1 || value > 3 {
					return nil, fmt.Errorf("row %d: invalid pick %q", i+1, row[2])
				}
				pick = value
			}
		}
		pack := byName[name]
		if pack == nil {
			pack = &Pack{Name: name}
			byName[name] = pack
		}
		pack.Cards = append(pack.Cards, Card{
			ID:    fmt.Sprintf("%s-%s-%d", name, color[:1], len(pack.Cards)+1),
			Color: color,
			Text:  text,
			Pack:  name,
			Pick:  pick,
		})
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	packs := make([]Pack, 0, len(names))
	for _, name := range names {
		packs = append(packs, *byName[name])
	}
	return packs, nil
}

func LoadPacksFile(path string) ([]Pack, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadPacksCSV(file)
}

// DefaultCatalog serves the built-in base pack.
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(BasePack())
}

func BasePack() Pack {
	whites := []string{
		"A disappointing birthday party.",
		"Forgetting the lyrics halfway through.",
		"An awkward high five.",
		"The last slice of pizza.",
		"A suspiciously friendly raccoon.",
		"Grandma's secret recipe.",
		"Running out of coffee.",
		"A motivational poster.",
		"Spontaneous interpretive dance.",
		"The group chat.",
		"A haunted vending machine.",
		"Tax season.",
		"Unsolicited advice.",
		"A very small horse.",
		"Karaoke night.",
		"Losing the remote.",
		"A dramatic exit.",
		"The office printer.",
		"Free samples.",
		"An overdue library book.",
		"A surprise pop quiz.",
		"Socks with sandals.",
		"A mildly cursed amulet.",
		"The Wi-Fi password.",
		"A stern talking-to.",
		"Mystery leftovers.",
		"An inflatable tube man.",
		"Pretending to be busy.",
		"A conveniently timed sneeze.",
		"The neighbor's cat.",
		"Breakfast for dinner.",
		"A questionable haircut.",
		"Reply-all.",
		"A really long meeting.",
		"Moonwalking away from problems.",
		"An emotional support plant.",
		"Getting lost in IKEA.",
		"A tiny hat.",
		"Dad jokes.",
		"The final boss.",
		"A rubber duck.",
		"Overcooked pasta.",
		"Glitter. Everywhere.",
		"A sudden plot twist.",
		"Stepping on a LEGO.",
		"The snooze button.",
		"A pirate's treasure map.",
		"Lukewarm tea.",
		"Accidentally liking an old photo.",
		"Interrupting cow.",
		"A dramatic slow clap.",
		"Expired coupons.",
		"A loud chewer.",
		"The perfect nap.",
		"A llama in a sweater.",
		"Forgetting why you walked into a room.",
		"An unexpected musical number.",
		"A trampoline accident.",
		"The pointy end of a cactus.",
		"Spoilers.",
	}
	blacks := []struct {
		text string
		pick int
	}{
		{"What ruined the family reunion? _", 1},
		{"My secret talent is _.", 1},
		{"The new museum exhibit is all about _.", 1},
		{"What's that smell? _", 1},
		{"Nothing says romance like _.", 1},
		{"I got fired because of _.", 1},
		{"Coming soon to theaters: _, the musical.", 1},
		{"What keeps me up at night? _", 1},
		{"My therapist says I need to stop thinking about _.", 1},
		{"Step one: _. Step two: profit.", 1},
		{"The wedding was perfect until _.", 1},
		{"Scientists have finally discovered _.", 1},
		{"_ is the reason I can't have nice things.", 1},
		{"In my next life I want to be _.", 1},
		{"_ and _: the crossover nobody asked for.", 2},
		{"First _, then _. Classic Monday.", 2},
	}
	pack := Pack{Name: DefaultPack}
	for i, text := range whites {
		pack.Cards = append(pack.Cards, Card{ID: fmt.Sprintf("base-w-%d", i+1), Color: ColorWhite, Text: text, Pack: DefaultPack})
	}
	for i, black := range blacks {
		pack.Cards = append(pack.Cards, Card{ID: fmt.Sprintf("base-b-%d", i+1), Color: ColorBlack, Text: black.text, Pack: DefaultPack, Pick: black.pick})
	}
	return pack
}
