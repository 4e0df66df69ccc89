package cli

import (
	"context"
	"flag"
	"fmt"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations and exit",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	if err := store.ApplyMigrations(context.Background()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	fmt.Println("migrations applied successfully")
	return nil
}
