// Package main is a repair tool for dirty migration state. golang-migrate marks
// a version dirty when a migration is interrupted part way; the server then
// refuses to start with "Dirty database version". This tool clears the flag on
// the recorded version so the next startup can retry cleanly.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/orgdirectory/orgdirectory/internal/config"
	"github.com/orgdirectory/orgdirectory/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	log.Println("Fixing dirty migration state...")
	if err := db.ForceMigrationVersion(database, version); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}
	log.Println("Migration state fixed successfully")
}
