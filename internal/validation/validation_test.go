package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"arbor/internal/errors"

	"github.com/stretchr/testify/assert"
)

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (r *idsRequest) Validate() error {
	if len(r.IDs) == 0 {
		return errors.ValidationError("ids are required", nil)
	}
	return nil
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"ids":["a"]}`, false},
		{"malformed", `{"ids":`, true},
		{"fails validation", `{"ids":[]}`, true},
		{"too large", `{"ids":["` + strings.Repeat("x", MaxBodyBytes) + `"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req idsRequest
			err := DecodeRequest(httptest.NewRequest("POST", "/", strings.NewReader(tt.body)), &req)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, []string{"a"}, req.IDs)
		})
	}
}
