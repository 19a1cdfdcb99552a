package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

// historyFileEntry is the legacy flat-file ledger shape this tool imports.
type historyFileEntry struct {
	Isbn          string `json:"isbn"`
	Title         string `json:"title"`
	ReleasedOn    string `json:"released_on"`
	ApprovedBy    string `json:"approved_by"`
	Inventory     int    `json:"inventory_on_release"`
	TotalPresales int    `json:"total_presales"`
}

// history-backfill imports a legacy JSON release history into the ledger
// table. Entries already present are skipped, so the import is rerunnable.
func main() {
	path := flag.String("file", "preorder_history.json", "Legacy history JSON file.")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *path, err)
		os.Exit(1)
	}
	var entries []historyFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", *path, err)
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := models.Migrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	ledger := models.NewLedger(db)

	var imported, skipped, failed int
	for i, e := range entries {
		releasedOn, err := time.Parse(models.PubDateLayout, e.ReleasedOn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "entry %d (%s): bad released_on %q: %v\n", i, e.Isbn, e.ReleasedOn, err)
			failed++
			continue
		}
		entry := models.Release{
			Isbn:               e.Isbn,
			Title:              e.Title,
			ReleasedOn:         releasedOn,
			ApprovedBy:         e.ApprovedBy,
			InventoryOnRelease: e.Inventory,
			TotalPresales:      e.TotalPresales,
		}
		err = ledger.RecordRelease(ctx, &entry)
		switch {
		case errors.Is(err, models.ErrDuplicateRelease):
			skipped++
		case err != nil:
			fmt.Fprintf(os.Stderr, "entry %d (%s): %v\n", i, e.Isbn, err)
			failed++
		default:
			imported++
		}
	}

	fmt.Printf("imported %d, skipped %d existing, %d failed (of %d)\n",
		imported, skipped, failed, len(entries))
	if failed > 0 {
		os.Exit(1)
	}
}
