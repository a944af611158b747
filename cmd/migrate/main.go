package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"idcheck.org/internal/config"
	"idcheck.org/internal/migrate"
	"idcheck.org/internal/obs"
	"idcheck.org/internal/store/pg"
	"idcheck.org/migrations"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	var (
		dsn            = flag.String("dsn", cfg.PGDSN, "PostgreSQL DSN (default IDCARD_PG_DSN)")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or IDCARD_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	var migrationFS, seedFS fs.FS = migrations.SQL(), migrations.Seeds()
	if *migrationsPath != "" {
		migrationFS = os.DirFS(*migrationsPath)
	}
	if *seedsPath != "" {
		seedFS = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(st.DB(), migrationFS, seedFS, migrate.WithLogger(obs.Logger()))

	var applied []string
	switch flag.Arg(0) {
	case "up":
		applied, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			return
		}
		if name != "" {
			applied = []string{name}
		}
	case "seed":
		applied, err = mgr.Seed(ctx)
	case "status":
		applied, err = mgr.Status(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, item := range applied {
		fmt.Println(item)
	}
}
