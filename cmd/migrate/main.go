// Command migrate runs schema migrations for the Postgres-backed
// store, grounded on the teacher's cmd/migration/main.go: a
// --reset flag that drops every table before re-migrating, and a
// default path that always runs AutoMigrate.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/latoulicious/voicecast/internal/store/gormstore"
)

func main() {
	resetFlag := flag.Bool("reset", false, "drop all tables before migrating")
	flag.Parse()

	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	if *resetFlag {
		log.Println("resetting database...")
		if err := gormstore.Reset(dsn); err != nil {
			log.Fatalf("failed to reset database: %v", err)
		}
		log.Println("database reset successfully")
	}

	log.Println("running migrations...")
	if _, err := gormstore.New(dsn); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Println("migrations completed successfully")
}
