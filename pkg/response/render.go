package response

import (
	"net/http"

	"github.com/go-chi/render"
)

// Render writes v as JSON with the given status.
func Render(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// RenderError writes err as a classified error response.
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := Classify(err)
	Render(w, r, status, Error(string(code), msg))
}

// BadRequest is written when the request body cannot be decoded.
func BadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	Render(w, r, http.StatusBadRequest, Error(string(BAD_REQUEST), msg))
}
