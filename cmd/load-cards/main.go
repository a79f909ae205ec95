package main

import (
	"flag"
	"log"
	"os"

	"party-cards/internal/config"
	"party-cards/internal/db"
	"party-cards/internal/game"
)

func main() {
	filePath := flag.String("file", "cards.csv", "path to a pack,color,pick,text csv")
	withBase := flag.Bool("base", true, "also load the built-in base pack")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	conn, err := db.Open(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	packs, err := game.LoadPacksFile(*filePath)
	if err != nil {
		log.Fatalf("failed to read cards: %v", err)
	}
	if *withBase {
		packs = append(packs, game.BasePack())
	}

	inserted, err := db.LoadCards(conn, packs)
	if err != nil {
		log.Fatalf("failed to upsert cards: %v", err)
	}

	log.Printf("loaded %d cards from %d packs", inserted, len(packs))
}
