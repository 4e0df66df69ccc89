package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/repub/registry/pkg/metastore"
)

func newBackupCommand() *Command {
	return &Command{
		Name:        "backup",
		Description: "Export or import a backup of registry metadata",
		Flags:       flag.NewFlagSet("backup", flag.ExitOnError),
		Run:         runBackup,
	}
}

func runBackup(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: repub backup {export|import} <path> [--dry-run]")
	}

	switch args[0] {
	case "export":
		if len(args) < 2 {
			return fmt.Errorf("usage: repub backup export <path>")
		}
		return runBackupExport(args[1])
	case "import":
		fs := flag.NewFlagSet("backup import", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report counts without writing")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: repub backup import <path> [--dry-run]")
		}
		return runBackupImport(fs.Arg(0), *dryRun)
	default:
		return fmt.Errorf("unknown backup subcommand: %s", args[0])
	}
}

func runBackupExport(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	doc, err := store.Export(context.Background())
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup document: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	fmt.Printf("backup written to %s (%d packages, %d versions, %d users)\n",
		path, len(doc.Data.Packages), len(doc.Data.PackageVersions), len(doc.Data.Users))
	return nil
}

func runBackupImport(path string, dryRun bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	var doc metastore.BackupDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse backup document: %w", err)
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

	counts, err := store.Import(context.Background(), &doc, dryRun)
	if err != nil {
		return fmt.Errorf("failed to import backup: %w", err)
	}

	verb := "imported"
	if dryRun {
		verb = "would import"
	}
	fmt.Printf("%s %d packages, %d versions, %d users, %d admin users, %d tokens, %d activity entries\n",
		verb, counts.Packages, counts.PackageVersions, counts.Users, counts.AdminUsers, counts.AuthTokens, counts.ActivityLog)
	return nil
}
