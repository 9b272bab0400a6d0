// Package client talks to an arbor smart server. A Remote can be used
// wherever a local repository is accepted as a fetch source.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"arbor/internal/api"
	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/fetch"
	"arbor/internal/inventory"
	"arbor/internal/logging"
	"arbor/internal/revision"
	"arbor/internal/safe"

	"go.uber.org/zap"
)

type Option func(*Remote)

func WithHTTPClient(hc *http.Client) Option { return func(r *Remote) { r.httpClient = hc } }

func WithLogger(logger *zap.Logger) Option { return func(r *Remote) { r.logger = logger } }

// Remote is a read-only view of a repository served over HTTP.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	codec      *safe.Codec
	logger     *zap.Logger
	info       *api.Info
	// batch bounds the ids or keys sent in one request.
	batch int
}

// Open connects to the server at baseURL and reads its repository info.
func Open(baseURL string, opts ...Option) (*Remote, error) {
	codec, err := safe.NewCodec(safe.DefaultCompressionOptions())
	if err != nil {
		return nil, err
	}
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Minute,
		},
		codec: codec,
		batch: api.MaxRecordKeys,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)

	var info api.Info
	if err := r.getJSON("/api/info", &info); err != nil {
		return nil, fmt.Errorf("contacting %s: %w", r.baseURL, err)
	}
	r.info = &info
	return r, nil
}

func (r *Remote) Info() api.Info { return *r.info }

// Tip is the served branch tip as of Open.
func (r *Remote) Tip() string {
	if r.info.Tip == "" {
		return revision.Null
	}
	return r.info.Tip
}

func (r *Remote) Location() string { return r.baseURL }

func (r *Remote) SupportsRichRoot() bool { return r.info.RichRoot }

// LockRead is a no-op: the server only serves committed data.
func (r *Remote) LockRead() error { return nil }

func (r *Remote) Unlock() error { return nil }

// decodeError turns a non-2xx response into the server's typed error.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e errors.Error
	if err := json.Unmarshal(body, &e); err == nil && e.Type != "" {
		if e.Code == 0 {
			e.Code = resp.StatusCode
		}
		return &e
	}
	return fmt.Errorf("unexpected status: %s", resp.Status)
}

func (r *Remote) do(req *http.Request) (*http.Response, error) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (r *Remote) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (r *Remote) getJSON(path string, out interface{}) error {
	data, err := r.get(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (r *Remote) post(path string, in interface{}) (*http.Response, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.do(req)
}

// GetRevision fetches one revision; an absent one is NO_SUCH_REVISION.
func (r *Remote) GetRevision(id string) (*revision.Revision, error) {
	data, err := r.get("/api/revisions/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return revision.Deserialize(data)
}

func (r *Remote) HasRevision(id string) (bool, error) {
	if revision.IsNull(id) {
		return true, nil
	}
	_, err := r.GetRevision(id)
	if errors.IsType(err, errors.ErrorTypeNoSuchRevision) {
		return false, nil
	}
	return err == nil, err
}

func (r *Remote) AllRevisionIDs() ([]string, error) {
	var list api.RevisionList
	if err := r.getJSON("/api/revisions", &list); err != nil {
		return nil, err
	}
	return list.RevisionIDs, nil
}

// ParentMap asks for parents in batches the server accepts.
func (r *Remote) ParentMap(ids []string) (map[string][]string, error) {
	parents := make(map[string][]string, len(ids))
	for start := 0; start < len(ids); start += r.batch {
		end := min(start+r.batch, len(ids))
		if err := r.parents(ids[start:end], parents); err != nil {
			return nil, err
		}
	}
	return parents, nil
}

func (r *Remote) parents(ids []string, into map[string][]string) error {
	resp, err := r.post("/api/graph/parents", api.ParentsRequest{RevisionIDs: ids})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out api.ParentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding parents: %w", err)
	}
	for id, ps := range out.Parents {
		into[id] = ps
	}
	return nil
}

func (r *Remote) GetInventory(id string) (*inventory.Inventory, error) {
	if revision.IsNull(id) {
		return inventory.New(revision.Null), nil
	}
	data, err := r.get("/api/inventories/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return inventory.Deserialize(data)
}

// RecordSource reads records of one kind in batches.
func (r *Remote) RecordSource(kind content.Kind) content.Source {
	return &remoteRecords{remote: r, kind: kind}
}

type remoteRecords struct {
	remote *Remote
	kind   content.Kind
}

func (s *remoteRecords) Kind() content.Kind { return s.kind }

func (s *remoteRecords) GetRecords(keys []content.Key) ([]*content.Record, []content.Key, error) {
	var records []*content.Record
	var missing []content.Key
	for start := 0; start < len(keys); start += s.remote.batch {
		end := min(start+s.remote.batch, len(keys))
		batch, err := s.fetch(keys[start:end])
		if err != nil {
			return nil, nil, err
		}
		records = append(records, batch.Records...)
		missing = append(missing, batch.Missing...)
	}
	return records, missing, nil
}

func (s *remoteRecords) fetch(keys []content.Key) (*api.RecordBatch, error) {
	resp, err := s.remote.post("/api/records/"+string(s.kind), api.RecordsRequest{Keys: keys})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s records: %w", s.kind, err)
	}
	batch, err := api.DecodeBatch(s.remote.codec, body)
	if err != nil {
		return nil, err
	}
	s.remote.logger.Debug("records received",
		zap.String("kind", string(s.kind)),
		zap.Int("records", len(batch.Records)),
		zap.Int("bytes", len(body)))
	return batch, nil
}

var _ fetch.Source = (*Remote)(nil)
