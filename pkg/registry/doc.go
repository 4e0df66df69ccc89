// Package registry wires together the storage, auth, activity, webhook
// and upstream-proxy packages into one running service, and runs the
// expired-upload-session GC job every 5 minutes on a cron schedule. That
// is the only scheduled job; listing-cache refresh runs on demand inside
// pkg/upstream. Grounded on cmd/spoke-aggregator/main.go's robfig/cron/v3
// scheduling style: a cron.Cron instance with one AddFunc per job,
// started alongside the HTTP server and stopped on shutdown.
package registry
