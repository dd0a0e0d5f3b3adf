// Package main is a diagnostic tool for database connectivity. It connects with
// the server's configuration, reports the schema version and prints a summary
// of the directory tables. It exits non-zero on any failure so it can gate a
// deployment step on a reachable, migrated database.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orgdirectory/orgdirectory/internal/config"
	"github.com/orgdirectory/orgdirectory/internal/db"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
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
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	sqlxDB := sqlx.NewDb(database, "postgres")

	fmt.Println("\n=== TABLES ===")
	for _, table := range []string{"organizations", "organization_members", "live_measures"} {
		var count int
		if err := sqlxDB.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+table); err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("%-22s %d rows\n", table, count)
	}

	fmt.Println("\n=== NEWEST ORGANIZATIONS ===")
	orgs := repositories.NewOrganizationRepository(sqlxDB)
	page, total, err := orgs.SearchOrganizationsPage(ctx, repositories.OrganizationFilter{}, 1, 10)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Showing %d of %d\n", len(page), total)
	if len(page) == 0 {
		fmt.Println("No organizations found!")
	}
	for _, org := range page {
		fmt.Printf("%s  %-30s guarded=%-5v created=%s\n",
			org.Key, org.Name, org.Guarded, org.CreatedAt.Format(time.RFC3339))
	}
}
