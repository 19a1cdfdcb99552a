package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
	"bitbucket.org/kalbooks/preorder_backend/shopify"
)

// pubdate-audit inspects every tracked title's publication date and buckets
// it for catalog cleanup. Exit code 1 signals at least one missing, malformed
// or stale date so the audit can run as a CI-style check.
func main() {
	outPath := flag.String("out", "pubdate_audit.csv", "Audit CSV output path.")
	overridesPath := flag.String("suggest-overrides", "pubdate_overrides_suggested.csv", "Template CSV listing titles needing a date override.")
	graceDays := flag.Int("grace-days", 30, "Days past the publication date before a title counts as stale.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	var source shopify.Source
	if config.DataSourceMode() == config.SourceModeFixture {
		source = shopify.NewFixtureSource()
	} else {
		s, err := shopify.NewGraphQLSource()
		if err != nil {
			fmt.Fprintf(os.Stderr, "commerce source: %v\n", err)
			os.Exit(1)
		}
		source = s
	}

	snapshot, err := source.FetchPreorderTitles(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog snapshot: %v\n", err)
		os.Exit(1)
	}
	overrides, err := models.LoadPubDateOverrides(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load overrides: %v\n", err)
		os.Exit(1)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -*graceDays)

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"Barcode", "Title", "PubDate", "Bucket", "Inventory"})

	counts := map[string]int{}
	var needsOverride []models.CatalogTitle
	for _, t := range snapshot {
		raw := t.PubDate
		if o, ok := overrides[t.Isbn]; ok {
			raw = o
		}

		bucket := "future"
		switch {
		case raw == "":
			bucket = "missing"
			needsOverride = append(needsOverride, t)
		default:
			d, err := models.ParsePubDate(raw)
			switch {
			case err != nil:
				bucket = "malformed"
				needsOverride = append(needsOverride, t)
			case d.Before(cutoff):
				bucket = "stale"
				needsOverride = append(needsOverride, t)
			case !d.After(today):
				if d.After(today.AddDate(0, 0, -7)) {
					bucket = "recent_release"
				} else {
					bucket = "past"
				}
			case !d.After(today.AddDate(0, 0, 7)):
				bucket = "upcoming_release"
			}
		}
		counts[bucket]++
		w.Write([]string{t.Isbn, t.Title, raw, bucket, strconv.Itoa(t.Inventory)})
	}

	if err := writeOverrideTemplate(*overridesPath, needsOverride); err != nil {
		fmt.Fprintf(os.Stderr, "write override template: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("audited %d titles: %d future, %d upcoming_release, %d recent_release, %d past, %d stale, %d missing, %d malformed\n",
		len(snapshot), counts["future"], counts["upcoming_release"], counts["recent_release"],
		counts["past"], counts["stale"], counts["missing"], counts["malformed"])
	fmt.Printf("audit file: %s\n", *outPath)
	if len(needsOverride) > 0 {
		fmt.Printf("override template: %s (%d titles need a corrected date)\n", *overridesPath, len(needsOverride))
	}

	if counts["stale"]+counts["missing"]+counts["malformed"] > 0 {
		os.Exit(1)
	}
}

// writeOverrideTemplate emits a fill-in CSV an operator completes and imports
// into the pub_date_overrides table.
func writeOverrideTemplate(path string, titles []models.CatalogTitle) error {
	if len(titles) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"Barcode", "Title", "CurrentPubDate", "CorrectedPubDate"})
	for _, t := range titles {
		w.Write([]string{t.Isbn, t.Title, t.PubDate, ""})
	}
	return w.Error()
}
