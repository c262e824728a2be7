package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/PedroNhamirre/jusmoz/storage"

	"github.com/joho/godotenv"
)

// Fetches an archived audit record by storage key and prints it, with an
// optional purge after review. Keys look like audit/2026/08/28/<uuid>.json
// (see storage.AuditKey).
func main() {
	key := flag.String("key", "", "storage key of the audit record")
	purge := flag.Bool("delete", false, "delete the record after printing it")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "Usage: audit-fetch -key audit/YYYY/MM/DD/<uuid>.json [-delete]")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	store, err := storage.NewStorageFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	ctx := context.Background()

	data, err := store.Get(ctx, *key)
	if err != nil {
		log.Fatalf("Failed to fetch audit record: %v", err)
	}
	fmt.Println(string(data))

	if *purge {
		if err := store.Delete(ctx, *key); err != nil {
			log.Fatalf("Failed to delete audit record: %v", err)
		}
		log.Printf("✓ Deleted audit record %s", *key)
	}
}
