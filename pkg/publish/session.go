package publish

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/repub/registry/pkg/apierr"
	"github.com/repub/registry/pkg/metastore"
)

// DefaultSessionTTL is the upload-session lifetime used when NewService
// is given a zero or negative ttl.
const DefaultSessionTTL = 10 * time.Minute

// NewSession opens an UploadSession for userID (nil for anonymous,
// though callers enforce auth before reaching here) and returns it with
// its TTL applied.
func (s *Service) NewSession(ctx context.Context, userID *string) (*metastore.UploadSession, error) {
	sess, err := s.store.CreateUploadSession(ctx, metastore.UploadSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     metastore.UploadSessionOpen,
		ExpiresAt: time.Now().UTC().Add(s.sessionTTL()),
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// resolveSession fetches sessionID and checks it is open and unexpired,
// returning UploadExpired otherwise.
func (s *Service) resolveSession(ctx context.Context, sessionID string) (*metastore.UploadSession, error) {
	sess, err := s.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			return nil, apierr.New(apierr.UploadExpired, "upload session not found")
		}
		return nil, err
	}
	if sess.State != metastore.UploadSessionOpen {
		return nil, apierr.New(apierr.UploadExpired, "upload session is no longer open")
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return nil, apierr.New(apierr.UploadExpired, "upload session has expired")
	}
	return sess, nil
}

// FinalizeStatus is returned by Finish.
type FinalizeStatus struct {
	Success bool
	Message string
}

// Finish implements GET .../newUploadFinish: it verifies the session
// reached completed and returns the success envelope. Any other state
// yields UploadExpired; the error a failed Upload call returned is not
// stored on the session, so Finish does not report it.
func (s *Service) Finish(ctx context.Context, sessionID string) (*FinalizeStatus, error) {
	sess, err := s.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		if apierr.Is(err, apierr.NotFound) {
			return nil, apierr.New(apierr.UploadExpired, "upload session not found")
		}
		return nil, err
	}
	switch sess.State {
	case metastore.UploadSessionCompleted:
		return &FinalizeStatus{Success: true, Message: "Package successfully uploaded."}, nil
	case metastore.UploadSessionExpired:
		return nil, apierr.New(apierr.UploadExpired, "upload session has expired")
	default:
		return nil, apierr.New(apierr.UploadExpired, "upload did not complete")
	}
}
