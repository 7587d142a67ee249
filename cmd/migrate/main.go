package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flextraff.org/internal/audit"
	"flextraff.org/internal/auth"
	"flextraff.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("FLEXTRAFF_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "migrations", "Path to SQL migrations")
		adminHandle    = flag.String("admin-handle", "", "Handle for bootstrap-admin")
		adminPassword  = flag.String("admin-password", "", "Password for bootstrap-admin")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FLEXTRAFF_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|bootstrap-admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, db, *adminHandle, *adminPassword)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapAdmin creates the first ADMIN account so the HTTP surface has a
// caller able to provision everyone else.
func bootstrapAdmin(ctx context.Context, db *sql.DB, handle, password string) error {
	if handle == "" || password == "" {
		return fmt.Errorf("bootstrap-admin requires -admin-handle and -admin-password")
	}
	store := auth.NewPGStore(db)
	recorder := audit.NewRecorder(audit.NewPGSink(db))
	admin := auth.NewAdmin(store, recorder, nil)

	user, err := admin.CreateUser(ctx, auth.NewUserInput{
		Handle:   handle,
		Password: password,
		Role:     auth.RoleAdmin,
	}, "", auth.ClientMeta{})
	if err != nil {
		return err
	}
	fmt.Printf("created admin %s (%s)\n", user.Handle, user.ID)
	return nil
}
