// internal/api/stream_handlers.go
package api

import (
	"fmt"
	"net/http"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/safe"
	"arbor/internal/validation"

	"github.com/vmihailenco/msgpack"
	"go.uber.org/zap"
)

// MaxRecordKeys bounds one record request.
const MaxRecordKeys = 10000

// RecordsRequest names the records wanted from one store.
type RecordsRequest struct {
	Keys []content.Key `json:"keys"`
}

func (r *RecordsRequest) Validate() error {
	if len(r.Keys) > MaxRecordKeys {
		return errors.ValidationError(
			fmt.Sprintf("at most %d keys per request", MaxRecordKeys), map[string]int{"keys": len(r.Keys)})
	}
	return nil
}

// RecordBatch is the msgpack body of a record response, zstd compressed
// when large.
type RecordBatch struct {
	Records []*content.Record `msgpack:"records"`
	Missing []content.Key     `msgpack:"missing"`
}

// ParseKind accepts the store names used in record URLs.
func ParseKind(s string) (content.Kind, error) {
	for _, k := range content.Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.ValidationError(fmt.Sprintf("unknown record kind %q", s), nil)
}

// Records streams the requested records of one kind.
func (h *Handler) Records(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RecordsRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	records, missing, err := h.repo.RecordSource(kind).GetRecords(req.Keys)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, compressed, err := EncodeBatch(h.codec, &RecordBatch{Records: records, Missing: missing})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithRequestID(r.Context()).Debug("records served",
		zap.String("kind", string(kind)),
		zap.Int("records", len(records)),
		zap.Int("missing", len(missing)),
		zap.Bool("compressed", compressed))

	w.Header().Set("Content-Type", contentTypeMsgpack)
	if compressed {
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.Write(body)
}

// EncodeBatch packs a batch and compresses it when it is large enough.
func EncodeBatch(codec *safe.Codec, batch *RecordBatch) ([]byte, bool, error) {
	data, err := msgpack.Marshal(batch)
	if err != nil {
		return nil, false, fmt.Errorf("encoding records: %w", err)
	}
	return codec.Compress(data)
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(codec *safe.Codec, body []byte) (*RecordBatch, error) {
	data, err := codec.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("decompressing records: %w", err)
	}
	var batch RecordBatch
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return &batch, nil
}
