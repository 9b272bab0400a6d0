package validation

import (
	"encoding/json"
	"net/http"

	"arbor/internal/errors"
)

// MaxBodyBytes bounds a JSON request body.
const MaxBodyBytes = 8 << 20

type Validator interface {
	Validate() error
}

// DecodeRequest reads a JSON body into v and validates it.
func DecodeRequest(r *http.Request, v Validator) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError("invalid request body", err.Error())
	}
	return v.Validate()
}
