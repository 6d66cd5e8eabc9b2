package handler

import (
	"net/http"
	"strconv"

	"github.com/josh-kwaku/fooddelivery-saga/internal/auth"
)

// idFromPath parses the {id} path segment. Anything unparsable is reported
// as not found rather than as a bad request.
func idFromPath(r *http.Request) (int64, *AppError) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrResourceNotFound
	}
	return id, nil
}

func requireClaims(r *http.Request, roles ...string) (*auth.Claims, *AppError) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, ErrMissingToken
	}
	if len(roles) == 0 {
		return claims, nil
	}
	for _, role := range roles {
		if claims.Role == role {
			return claims, nil
		}
	}
	return nil, ErrForbidden
}

// queryLimit reads the optional ?limit= parameter. Zero means the service
// default. On a bad value the validation error is already written.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		RespondValidationError(w, []FieldError{{Field: "limit", Message: "must be a positive integer"}})
		return 0, false
	}
	return n, true
}
