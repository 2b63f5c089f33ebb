// Command token mints bearer tokens for the Lumina API.
//
//	token -id alex -role admin
//	token -id dana -role user -lamps 3f1c...,9a2e... -ttl 720h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/auth"
	"github.com/lumina-control/backend/internal/config"
)

func main() {
	id := flag.String("id", "", "Actor ID (token subject)")
	name := flag.String("name", "", "Display name shown in the activity log")
	role := flag.String("role", string(access.RoleUser), "Role: super_admin, admin, operator, user or viewer")
	lamps := flag.String("lamps", "", "Comma-separated lamp IDs a user, operator or viewer may access")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "Token lifetime")
	flag.Parse()

	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Invalid JWT secret (set %s_JWT_SECRET): %v", config.EnvPrefix, err)
	}

	actor := access.Actor{ID: *id, Name: *name, Role: access.Role(*role)}
	for _, l := range strings.Split(*lamps, ",") {
		if l = strings.TrimSpace(l); l != "" {
			actor.AllowedLamps = append(actor.AllowedLamps, l)
		}
	}

	signed, expires, err := tokens.Issue(actor, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Token for %s (%s) expires %s\n", actor.DisplayName(), actor.Role, expires.Format(time.RFC3339))
	fmt.Println(signed)
}
