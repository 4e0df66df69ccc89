package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/repub/registry/pkg/auth"
)

func newTokenCommand() *Command {
	return &Command{
		Name:        "token",
		Description: "Manage auth tokens: create, list, delete",
		Flags:       flag.NewFlagSet("token", flag.ExitOnError),
		Run:         runToken,
	}
}

func runToken(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: repub token {create|list|delete} ...")
	}

	switch args[0] {
	case "create":
		return runTokenCreate(args[1:])
	case "list":
		return runTokenList(args[1:])
	case "delete":
		return runTokenDelete(args[1:])
	default:
		return fmt.Errorf("unknown token subcommand: %s", args[0])
	}
}

func runTokenCreate(args []string) error {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	email := fs.String("email", "", "Owning user's email")
	label := fs.String("label", "cli", "Human-readable label")
	scopes := fs.String("scopes", auth.ScopeReadAll, "Comma-separated scopes")
	ttlDays := fs.Int("ttl-days", 0, "Expiry in days from now (0 = never)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := store.GetUserByEmail(ctx, *email)
	if err != nil {
		return fmt.Errorf("failed to find user %q: %w", *email, err)
	}

	var expiresAt *time.Time
	if *ttlDays > 0 {
		t := time.Now().Add(time.Duration(*ttlDays) * 24 * time.Hour)
		expiresAt = &t
	}

	tokens := auth.NewTokenService(store, time.Minute)
	raw, token, err := tokens.CreateToken(ctx, user.ID, *label, strings.Split(*scopes, ","), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	fmt.Printf("token created: %s\n", raw)
	fmt.Printf("id: %s  label: %s  scopes: %v\n", token.ID, token.Label, token.Scopes)
	return nil
}

func runTokenList(args []string) error {
	fs := flag.NewFlagSet("token list", flag.ExitOnError)
	email := fs.String("email", "", "Owning user's email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	user, err := store.GetUserByEmail(ctx, *email)
	if err != nil {
		return fmt.Errorf("failed to find user %q: %w", *email, err)
	}

	tokens, err := store.ListTokens(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}
	for _, t := range tokens {
		fmt.Printf("%s  %-20s  %v\n", t.ID, t.Label, t.Scopes)
	}
	return nil
}

func runTokenDelete(args []string) error {
	fs := flag.NewFlagSet("token delete", flag.ExitOnError)
	id := fs.String("id", "", "Token ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	if err := store.DeleteToken(context.Background(), *id); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	fmt.Println("token deleted")
	return nil
}
