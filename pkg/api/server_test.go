package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/repub/registry/pkg/activity"
	"github.com/repub/registry/pkg/auth"
	"github.com/repub/registry/pkg/blobstore"
	"github.com/repub/registry/pkg/config"
	"github.com/repub/registry/pkg/metastore"
	"github.com/repub/registry/pkg/observability"
	"github.com/repub/registry/pkg/publish"
	"github.com/repub/registry/pkg/webhooks"
)

func buildTestArchive(t *testing.T, name, version string) []byte {
	t.Helper()
	manifest := "name: " + name + "\nversion: " + version + "\n"

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "pubspec.yaml", Mode: 0644, Size: int64(len(manifest))}))
	_, err := tw.Write([]byte(manifest))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type testEnv struct {
	server *Server
	store  metastore.Store
	tokens *auth.TokenService
	userID string
	rawTok string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := metastore.OpenEmbedded(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.(*metastore.SQLStore).ApplyMigrations(context.Background()))
	t.Cleanup(func() { store.Close() })

	blobs, err := blobstore.NewFilesystemStore(t.TempDir(), nil)
	require.NoError(t, err)

	tokens := auth.NewTokenService(store, time.Minute)
	activityLog := activity.New(store)
	dispatcher := webhooks.NewDispatcher(store, activityLog, 1, 16)

	cfg := &config.Config{
		Registry: config.RegistryConfig{
			BaseURL:           "http://repub.test",
			RateLimitRequests: 10000,
			RateLimitWindow:   time.Minute,
		},
	}

	publisher := publish.NewService(store, blobs, activityLog, dispatcher, 0)
	server := NewServer(cfg, store, blobs, tokens, activityLog, dispatcher, publisher, nil, observability.NewLogger(observability.ErrorLevel, nil))

	user, err := store.CreateUser(context.Background(), metastore.User{Email: "dev@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)

	raw, _, err := tokens.CreateToken(context.Background(), user.ID, "test", []string{auth.ScopePublishAll, auth.ScopeAdmin}, nil)
	require.NoError(t, err)

	return &testEnv{server: server, store: store, tokens: tokens, userID: user.ID, rawTok: raw}
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+e.rawTok)
	rec := httptest.NewRecorder()
	e.server.Router.ServeHTTP(rec, req)
	return rec
}

func TestPublishAndResolveHappyPath(t *testing.T) {
	env := newTestEnv(t)

	sessResp := env.do(t, http.MethodGet, "/api/packages/versions/new", nil, "")
	require.Equal(t, http.StatusOK, sessResp.Code)

	var sessBody struct {
		Fields struct {
			UploadID string `json:"upload_id"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(sessResp.Body.Bytes(), &sessBody))
	require.NotEmpty(t, sessBody.Fields.UploadID)

	archive := buildTestArchive(t, "foo_bar", "1.0.0")
	var multipartBody bytes.Buffer
	writer := multipart.NewWriter(&multipartBody)
	require.NoError(t, writer.WriteField("upload_id", sessBody.Fields.UploadID))
	part, err := writer.CreateFormFile("file", "archive.tar.gz")
	require.NoError(t, err)
	_, err = part.Write(archive)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	uploadResp := env.do(t, http.MethodPost, "/api/packages/versions/newUpload", &multipartBody, writer.FormDataContentType())
	require.Equal(t, http.StatusNoContent, uploadResp.Code)

	finishResp := env.do(t, http.MethodGet, "/api/packages/versions/newUploadFinish?upload_id="+sessBody.Fields.UploadID, nil, "")
	require.Equal(t, http.StatusOK, finishResp.Code)

	listResp := env.do(t, http.MethodGet, "/api/packages/foo_bar", nil, "")
	require.Equal(t, http.StatusOK, listResp.Code)
	require.Equal(t, pubV2ContentType, listResp.Header().Get("Content-Type"))

	var doc listingDoc
	require.NoError(t, json.Unmarshal(listResp.Body.Bytes(), &doc))
	require.Equal(t, "foo_bar", doc.Name)
	require.NotNil(t, doc.Latest)
	require.Equal(t, "1.0.0", doc.Latest.Version)
	require.NotNil(t, doc.LatestNonRetracted)
	require.Equal(t, "1.0.0", doc.LatestNonRetracted.Version)
	require.Len(t, doc.Versions, 1)

	archiveResp := env.do(t, http.MethodGet, "/api/packages/foo_bar/versions/1.0.0/archive.tar.gz", nil, "")
	require.Equal(t, http.StatusOK, archiveResp.Code)
	require.Equal(t, archive, archiveResp.Body.Bytes())
}

func TestPublishRejectsWithoutAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/packages/versions/new", nil)
	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSearchReturnsPage(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.store.UpsertPackageVersion(context.Background(), metastore.Package{Name: "alpha_widgets"}, metastore.PackageVersion{
		PackageName:   "alpha_widgets",
		Version:       "1.0.0",
		ArchiveSHA256: "abc123",
		ArchiveKey:    "hosted-packages/alpha_widgets/1.0.0/abc123.tar.gz",
	})
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/api/packages/search?q=alpha", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	var page metastore.Page[metastore.Package]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
	require.Equal(t, int64(1), page.Total)
}

func TestAdminStatsRequiresAdminScope(t *testing.T) {
	env := newTestEnv(t)

	raw, _, err := env.tokens.CreateToken(context.Background(), env.userID, "no-admin", []string{auth.ScopeReadAll}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminStatsWithAdminScope(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/admin/api/stats", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestAdminRetractAndUnretractVersion(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.store.UpsertPackageVersion(context.Background(), metastore.Package{Name: "foo"}, metastore.PackageVersion{
		PackageName:   "foo",
		Version:       "1.0.0",
		ArchiveSHA256: "abc123",
		ArchiveKey:    "hosted-packages/foo/1.0.0/abc123.tar.gz",
	})
	require.NoError(t, err)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(map[string]string{"message": "security issue"}))
	resp := env.do(t, http.MethodPost, "/admin/api/packages/foo/versions/1.0.0/retract", &body, "application/json")
	require.Equal(t, http.StatusOK, resp.Code)

	listResp := env.do(t, http.MethodGet, "/api/packages/foo", nil, "")
	var doc listingDoc
	require.NoError(t, json.Unmarshal(listResp.Body.Bytes(), &doc))
	require.True(t, doc.Versions[0].Retracted)
	require.Equal(t, "security issue", doc.Versions[0].RetractionMessage)
	// Every version is retracted: latest still falls back to it, but
	// latestNonRetracted has nothing to point to.
	require.NotNil(t, doc.Latest)
	require.Nil(t, doc.LatestNonRetracted)

	unretractResp := env.do(t, http.MethodPost, "/admin/api/packages/foo/versions/1.0.0/unretract", nil, "")
	require.Equal(t, http.StatusOK, unretractResp.Code)

	listResp2 := env.do(t, http.MethodGet, "/api/packages/foo", nil, "")
	var doc2 listingDoc
	require.NoError(t, json.Unmarshal(listResp2.Body.Bytes(), &doc2))
	require.NotNil(t, doc2.LatestNonRetracted)
	require.Equal(t, "1.0.0", doc2.LatestNonRetracted.Version)
}
