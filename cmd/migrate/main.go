package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"auditgrid.org/internal/migrate"
	"auditgrid.org/internal/obs"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("AUDITGRID_DATABASE_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
	)
	flag.Parse()

	log, err := obs.NewLogger("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AUDITGRID_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	migrations, seeds, err := migrate.Embedded()
	if err != nil {
		log.Fatal("load embedded schema", zap.Error(err))
	}
	if *migrationsPath != "" {
		migrations = os.DirFS(*migrationsPath)
	}
	if *seedsPath != "" {
		seeds = os.DirFS(*seedsPath)
	}
	mgr := migrate.NewManager(db, migrations, seeds)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal("unknown command", zap.String("command", flag.Arg(0)))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", flag.Arg(0)))
}
