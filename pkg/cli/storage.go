package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/repub/registry/pkg/metastore"
)

func newStorageCommand() *Command {
	return &Command{
		Name:        "storage",
		Description: "Manage staged storage configuration: activate",
		Flags:       flag.NewFlagSet("storage", flag.ExitOnError),
		Run:         runStorage,
	}
}

func runStorage(args []string) error {
	if len(args) == 0 || args[0] != "activate" {
		return fmt.Errorf("usage: repub storage activate")
	}
	return runStorageActivate(args[1:])
}

// runStorageActivate promotes the pending storage config document to
// active, refusing while a serve process appears to hold the lock
// file.
func runStorageActivate(args []string) error {
	if serverAppearsRunning() {
		return fmt.Errorf("refusing to activate storage config: %s exists, a server appears to be running", serveLockPath)
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
	doc, err := store.GetStorageConfig(ctx, metastore.StoragePending)
	if err != nil {
		return fmt.Errorf("no pending storage config to activate: %w", err)
	}

	if err := store.SetStorageConfig(ctx, metastore.StorageActive, doc); err != nil {
		return fmt.Errorf("failed to activate storage config: %w", err)
	}

	fmt.Println("pending storage config activated")
	return nil
}
