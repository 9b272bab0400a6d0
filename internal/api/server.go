package api

import (
	"net/http"

	"arbor/internal/branch"
	"arbor/internal/logging"
	"arbor/internal/middleware"
	"arbor/internal/repository"
)

// NewServer returns the complete HTTP handler for serving repo: every route
// behind request ids, access logging and panic recovery.
func NewServer(repo *repository.Repository, br *branch.Branch, logger *logging.Logger) (http.Handler, error) {
	h, err := NewHandler(repo, br, logger)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	h.Routes(mux)
	return middleware.Chain(mux,
		middleware.Recover(h.logger),
		middleware.Logger(h.logger),
		middleware.RequestID,
	), nil
}
