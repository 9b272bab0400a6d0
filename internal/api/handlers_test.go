package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbor/internal/branch"
	"arbor/internal/commit"
	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/inventory"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/safe"
	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rootOnly []string

func (r rootOnly) ParentIDs() []string { return r }
func (r rootOnly) Entries() ([]commit.Entry, error) {
	return []commit.Entry{{FileID: "root-id", Kind: inventory.KindDirectory}}, nil
}

func setupTestServer(t *testing.T) (*http.ServeMux, *repository.Repository) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := repository.New(transport.NewMemory(), db, repository.Options{})
	require.NoError(t, err)
	br := branch.Open(repo, "")
	for _, id := range []string{"A", "B"} {
		tip, err := br.Tip()
		require.NoError(t, err)
		_, err = commit.CommitSnapshot(context.Background(), repo, rootOnly{tip}, commit.Request{
			Options:        commit.Options{RevisionID: id, Committer: "tester"},
			Message:        "commit " + id,
			AllowUnchanged: true,
		})
		require.NoError(t, err)
		require.NoError(t, br.SetTip(id))
	}

	h, err := NewHandler(repo, br, nil)
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Routes(mux)
	return mux, repo
}

func serve(mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHealthAndInfo(t *testing.T) {
	mux, _ := setupTestServer(t)

	rec := serve(mux, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = serve(mux, "GET", "/api/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, "rich-root", info.Format)
	assert.True(t, info.RichRoot)
	assert.Equal(t, "B", info.Tip)
	assert.Equal(t, branch.DefaultName, info.Branch)
}

func TestGetRevision(t *testing.T) {
	mux, _ := setupTestServer(t)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{"existing revision", "B", http.StatusOK},
		{"missing revision", "nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(mux, "GET", "/api/revisions/"+tt.id, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				var e errors.Error
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
				assert.Equal(t, errors.ErrorTypeNoSuchRevision, e.Type)
				return
			}
			rev, err := revision.Deserialize(rec.Body.Bytes())
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, rev.ParentIDs)
		})
	}

	rec := serve(mux, "GET", "/api/revisions", nil)
	var list RevisionList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.ElementsMatch(t, []string{"A", "B"}, list.RevisionIDs)
}

func TestGetInventory(t *testing.T) {
	mux, repo := setupTestServer(t)

	rec := serve(mux, "GET", "/api/inventories/A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeMsgpack, rec.Header().Get("Content-Type"))
	inv, err := inventory.Deserialize(rec.Body.Bytes())
	require.NoError(t, err)
	want, err := repo.GetInventory("A")
	require.NoError(t, err)
	assert.True(t, want.Equal(inv))

	rec = serve(mux, "GET", "/api/inventories/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParents(t *testing.T) {
	mux, _ := setupTestServer(t)

	rec := serve(mux, "POST", "/api/graph/parents", ParentsRequest{RevisionIDs: []string{"A", "B", "ghost"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ParentsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, map[string][]string{"A": {}, "B": {"A"}}, resp.Parents)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/graph/parents", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecords(t *testing.T) {
	mux, _ := setupTestServer(t)
	codec, err := safe.NewCodec(safe.DefaultCompressionOptions())
	require.NoError(t, err)

	keys := []content.Key{content.RevisionKey("A"), content.RevisionKey("missing")}
	rec := serve(mux, "POST", "/api/records/revisions", RecordsRequest{Keys: keys})
	require.Equal(t, http.StatusOK, rec.Code)

	batch, err := DecodeBatch(codec, rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, content.RevisionKey("A"), batch.Records[0].Key)
	assert.Equal(t, content.Sha1(batch.Records[0].Content), batch.Records[0].Sha1)
	assert.Equal(t, []content.Key{content.RevisionKey("missing")}, batch.Missing)

	rec = serve(mux, "POST", "/api/records/widgets", RecordsRequest{Keys: keys})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tooMany := make([]content.Key, MaxRecordKeys+1)
	for i := range tooMany {
		tooMany[i] = content.RevisionKey("A")
	}
	rec = serve(mux, "POST", "/api/records/revisions", RecordsRequest{Keys: tooMany})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchCompression(t *testing.T) {
	codec, err := safe.NewCodec(safe.CompressionOptions{MinSize: 16})
	require.NoError(t, err)
	batch := &RecordBatch{Records: []*content.Record{{
		Key:     content.TextKey("f", "r"),
		Content: bytes.Repeat([]byte("abcdef"), 1000),
	}}}

	body, compressed, err := EncodeBatch(codec, batch)
	require.NoError(t, err)
	assert.True(t, compressed)

	got, err := DecodeBatch(codec, body)
	require.NoError(t, err)
	assert.Equal(t, batch.Records[0].Content, got.Records[0].Content)
}

func TestServerSetsRequestID(t *testing.T) {
	_, repo := setupTestServer(t)
	srv, err := NewServer(repo, branch.Open(repo, ""), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/revisions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
