// Package webhooks provides event-driven delivery of registry events
// to subscriber URLs, with retries, rate limiting, and HMAC signing.
//
// # Events
//
// package.published, package.downloaded (opt-in), package.retracted,
// package.unretracted, package.discontinued, package.deleted.
//
// # Usage
//
//	dispatcher := webhooks.NewDispatcher(store, activityLog, 4, 1000)
//	dispatcher.Start(ctx)
//	dispatcher.Dispatch(ctx, webhooks.EventPackagePublished, map[string]interface{}{
//		"package": "foo", "version": "1.0.0", "sha256": sum,
//	})
//
// Verify signature (receiver side):
//
//	if !webhooks.VerifySignature(body, r.Header.Get("X-Repub-Signature"), secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry policy
//
// Fixed backoff schedule with jitter: 1s, 5s, 30s, 2m, 10m. A webhook
// is auto-disabled after FailureThreshold consecutive failures.
package webhooks
