package actor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bidding-service/internal/models"
	"bidding-service/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(id, role string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != "" {
		r.Header.Set(HeaderID, id)
	}
	if role != "" {
		r.Header.Set(HeaderRole, role)
	}
	return r
}

func TestFromRequest(t *testing.T) {
	a, err := FromRequest(request("alice", "student"))
	require.NoError(t, err)
	assert.Equal(t, models.Actor{ID: "alice", Role: models.RoleStudent}, a)

	a, err = FromRequest(request("", ""))
	require.NoError(t, err)
	assert.Equal(t, models.Actor{}, a)

	_, err = FromRequest(request("root", "system"))
	assert.ErrorIs(t, err, response.ErrInvalidInput)

	_, err = FromRequest(request("", "instructor"))
	assert.ErrorIs(t, err, response.ErrInvalidInput)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "alice", Key(request("alice", "student")))

	r := request("", "")
	assert.Equal(t, r.RemoteAddr, Key(r))
}
