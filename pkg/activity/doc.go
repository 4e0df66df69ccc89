// Package activity provides the registry's activity feed: a narrow
// writer/reader over the metadata store's append-only activity log,
// used by the publish pipeline, admin handlers, and auth layer to
// record what happened without coupling them to storage details.
package activity
