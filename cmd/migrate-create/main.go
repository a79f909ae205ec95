package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

var (
	validName     = regexp.MustCompile(`^[a-z0-9_]+$`)
	versionPrefix = regexp.MustCompile(`^(\d+)_`)
)

func main() {
	name := flag.String("name", "", "migration name (lower_snake_case)")
	dir := flag.String("dir", filepath.Join("db", "migrations"), "migrations directory")
	flag.Parse()

	if *name == "" {
		log.Fatal("migration name is required")
	}
	if !validName.MatchString(*name) {
		log.Fatal("migration name must be lower_snake_case")
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatalf("create migrations dir: %v", err)
	}
	next, err := nextVersion(*dir)
	if err != nil {
		log.Fatalf("scan migrations: %v", err)
	}

	base := fmt.Sprintf("%06d_%s", next, *name)
	upPath := filepath.Join(*dir, base+".up.sql")
	downPath := filepath.Join(*dir, base+".down.sql")

	if err := writeFile(upPath, "-- up migration\n"); err != nil {
		log.Fatalf("create up migration: %v", err)
	}
	if err := writeFile(downPath, "-- down migration\n"); err != nil {
		log.Fatalf("create down migration: %v", err)
	}

	log.Printf("created %s and %s", upPath, downPath)
}

// nextVersion returns one past the highest numeric prefix in dir.
func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, entry := range entries {
		match := versionPrefix.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if version > highest {
			highest = version
		}
	}
	return highest + 1, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
