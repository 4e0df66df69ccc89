// Package auth implements the opaque bearer token core: generation,
// hash-at-rest storage, scope evaluation, and TTL/last-used tracking.
//
// Tokens are never stored in plaintext; only the SHA-256 hash of the
// raw value is persisted. The raw value is returned exactly once, from
// the API response that creates it.
//
//	svc := auth.NewTokenService(store, time.Minute)
//	raw, token, err := svc.CreateToken(ctx, userID, "ci", []string{auth.ScopePublishAll}, nil)
//
//	authCtx, err := svc.Authenticate(ctx, raw)
//	if err != nil {
//		return err
//	}
//	if !authCtx.HasScope(auth.PublishCapability("my_package")) {
//		return apierr.New(apierr.Forbidden, "missing scope")
//	}
package auth
