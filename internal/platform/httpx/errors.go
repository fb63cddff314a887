package httpx

import "net/http"

// Status-specific problem helpers. Handlers translate their domain errors
// into one of these; the detail string is the wrapped error text.

// BadRequest reports a malformed payload or out-of-range value.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Forbidden reports a capability the actor does not hold.
func Forbidden(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound reports a missing resource.
func NotFound(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict reports an operation that clashes with already-committed state.
func Conflict(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusConflict, "Conflict", detail)
}

// UnprocessableEntity reports a well-formed request the domain rejected.
func UnprocessableEntity(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// BadGateway reports a downstream collaborator failure.
func BadGateway(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadGateway, "Bad Gateway", detail)
}

// Internal reports an unexpected failure without leaking its cause.
func Internal(w http.ResponseWriter) {
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
