package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/migrate"
	"tripwise.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	dsn := pflag.String("dsn", os.Getenv("TRIPWISE_PG_DSN"), "PostgreSQL DSN")
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TRIPWISE_PG_DSN")
	}
	if len(pflag.Args()) == 0 {
		log.Fatal("usage: migrate [--dsn DSN] up|down|seed|status|pending")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations(), pg.Seeds())

	switch pflag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		var n int
		if n, err = mgr.Seed(ctx); err == nil {
			log.Printf("%d seed scripts applied", n)
			err = seedRoleTemplates(ctx, store)
		}
	case "status":
		var applied []migrate.Record
		applied, err = mgr.Status(ctx)
		for _, r := range applied {
			fmt.Printf("%s\t%s\t%.12s\n", r.Name, r.AppliedAt.Format(time.RFC3339), r.Checksum)
		}
	case "pending":
		var names []string
		names, err = mgr.Pending(ctx)
		for _, name := range names {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}

// seedRoleTemplates installs the built-in role templates in every organization.
func seedRoleTemplates(ctx context.Context, store *pg.Store) error {
	roles, err := auth.NewRoleService(store, store)
	if err != nil {
		return err
	}
	orgs, err := store.OrganizationIDs(ctx)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		n, err := roles.SeedSystemTemplates(ctx, org)
		if err != nil {
			return fmt.Errorf("seed templates for %s: %w", org, err)
		}
		log.Printf("organization %s: %d role templates created", org, n)
	}
	return nil
}
