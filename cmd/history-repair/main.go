package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

// history-repair validates every ledger entry's shape and reports the ones a
// run would refuse to load. The ledger is append-only, so repairs happen as
// operator-reviewed SQL, never automated rewrites; this tool only finds and
// explains the broken rows.
func main() {
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var entries []models.Release
	if err := db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		fmt.Fprintf(os.Stderr, "load ledger: %v\n", err)
		os.Exit(1)
	}

	seen := make(map[string]int, len(entries))
	var broken int
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			fmt.Printf("BROKEN id=%d isbn=%q: %v\n", e.ID, e.Isbn, err)
			broken++
			continue
		}
		if prev, ok := seen[e.Isbn]; ok {
			// Unreachable with the unique index intact; present rows predating
			// it still need flagging.
			fmt.Printf("DUPLICATE id=%d isbn=%s (first seen id=%d)\n", e.ID, e.Isbn, prev)
			broken++
			continue
		}
		seen[e.Isbn] = e.ID
	}

	fmt.Printf("checked %d ledger entries, %d need attention\n", len(entries), broken)
	if broken > 0 {
		os.Exit(1)
	}
}
