// adminctl provisions faculty and admin accounts, which cannot self-register
// through the phone flow.
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
	"golang.org/x/term"

	"vidyahub.org/internal/authn"
	"vidyahub.org/internal/ids"
	"vidyahub.org/internal/store"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("VIDYAHUB_PG_DSN"), "PostgreSQL DSN")
		orgID    = flag.String("org", "", "organization id")
		role     = flag.String("role", store.RoleFaculty, "role: faculty or admin")
		username = flag.String("username", "", "login username")
		fullName = flag.String("name", "", "full name")
		email    = flag.String("email", "", "email address")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or VIDYAHUB_PG_DSN")
	}
	if *orgID == "" || *username == "" {
		log.Fatal("usage: adminctl -org <id> -username <name> [-role faculty|admin]")
	}
	if *role != store.RoleFaculty && *role != store.RoleAdmin {
		log.Fatalf("role %q cannot log in with a password", *role)
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	hash, err := authn.HashPassword(string(password))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user := &store.User{
		ID:             ids.New(),
		OrganizationID: *orgID,
		Role:           *role,
		FullName:       *fullName,
		Username:       *username,
		Email:          *email,
		PasswordHash:   hash,
		IsActive:       true,
	}
	if err := store.NewPGUserStore(db).Create(ctx, user); err != nil {
		log.Fatalf("create user: %v", err)
	}
	fmt.Printf("created %s %s (%s)\n", *role, *username, user.ID)
}
