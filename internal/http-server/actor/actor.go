// Package actor reads the caller identity set by the authenticating gateway.
package actor

import (
	"fmt"
	"net/http"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"
)

const (
	HeaderID   = "X-Actor-ID"
	HeaderRole = "X-Actor-Role"
)

// FromRequest returns the caller. A request without identity headers is an
// anonymous viewer: it can browse availability but every command refuses it.
func FromRequest(r *http.Request) (models.Actor, error) {
	id := r.Header.Get(HeaderID)
	role := models.ActorRole(r.Header.Get(HeaderRole))

	if id == "" && role == "" {
		return models.Actor{}, nil
	}

	switch role {
	case models.RoleInstructor, models.RoleStudent:
	default:
		// system identity is internal and never accepted from the wire
		return models.Actor{}, fmt.Errorf("unknown actor role %q: %w", role, response.ErrInvalidInput)
	}

	if id == "" {
		return models.Actor{}, fmt.Errorf("%s is required: %w", HeaderID, response.ErrInvalidInput)
	}

	return models.Actor{ID: id, Role: role}, nil
}

// Key identifies the caller for rate limiting.
func Key(r *http.Request) string {
	if id := r.Header.Get(HeaderID); id != "" {
		return id
	}
	return r.RemoteAddr
}
