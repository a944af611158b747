package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"idcheck.org/internal/audit"
	"idcheck.org/internal/config"
	"idcheck.org/internal/fixtures"
	"idcheck.org/internal/store"
)

func main() {
	log.SetFlags(0)
	var (
		profilePath = flag.String("profile", "", "YAML fixture profile (default: built-in profile)")
		count       = flag.Int("count", -1, "Override the profile's record count")
		seed        = flag.Uint64("seed", 0, "Override the profile's random seed")
		dryRun      = flag.Bool("dry-run", false, "Print generated records as JSON lines instead of storing them")
	)
	flag.Parse()

	profile := fixtures.DefaultProfile()
	if *profilePath != "" {
		var err error
		if profile, err = fixtures.LoadProfile(*profilePath); err != nil {
			log.Fatal(err)
		}
	}
	if *count >= 0 {
		profile.Count = *count
	}
	if *seed != 0 {
		profile.Seed = *seed
	}

	records, err := fixtures.Generate(profile, time.Now().UTC())
	if err != nil {
		log.Fatal(err)
	}

	if *dryRun {
		enc := json.NewEncoder(os.Stdout)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				log.Fatal(err)
			}
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := fixtures.Load(ctx, st, records)
	if err != nil {
		log.Fatalf("seed: stored %d of %d: %v", n, len(records), err)
	}
	_ = audit.LogEvent(ctx, audit.EventSeeded, map[string]any{
		"store":   string(cfg.Store),
		"records": n,
		"seed":    profile.Seed,
	})

	stats, err := st.Stats(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("seeded %d records into %s store (valid=%d invalid=%d total=%d)\n",
		n, cfg.Store, stats.Valid, stats.Invalid, stats.Total)
}
