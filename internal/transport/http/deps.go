package http

import (
	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps holds everything the router needs from the composition root.
type Deps struct {
	FlashCall flashcall.Service
	// ProofVerifier enables GET /api/flash-call/proof when non-nil.
	ProofVerifier middleware.TokenVerifier
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}
