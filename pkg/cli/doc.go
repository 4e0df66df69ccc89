// Package cli provides the repub command-line interface: process
// lifecycle and operator commands for the registry.
//
// # Commands
//
// serve: start the HTTP service, env-driven config.
//
//	repub serve
//
// migrate: apply pending metadata store migrations and exit.
//
//	repub migrate
//
// token: manage auth tokens.
//
//	repub token create --email dev@example.com --scopes publish:all
//	repub token list --email dev@example.com
//	repub token delete --id <token-id>
//
// storage: promote a pending storage config to active.
//
//	repub storage activate
//
// backup: export or import registry metadata.
//
//	repub backup export ./backup.json
//	repub backup import ./backup.json --dry-run
//
// # Configuration
//
// All commands load configuration from the REPUB_* environment
// variables documented in pkg/config.
//
// # Related Packages
//
//   - pkg/config: environment-driven configuration
//   - pkg/registry: composition root wired by `serve`
//   - pkg/metastore: metadata store opened by every command here
package cli
