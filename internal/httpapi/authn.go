package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tripwise.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth validates the bearer token and attaches the caller's principal.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		principal, err := a.roles.LoadPrincipal(r.Context(), claims.Subject)
		switch {
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusUnauthorized, "unknown principal")
			return
		case errors.Is(err, auth.ErrForbidden):
			writeServiceError(w, r, err)
			return
		case err != nil:
			logFailure(r, "authentication_error", err)
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		if claims.OrganizationID != "" && claims.OrganizationID != principal.Employee.OrganizationID {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func principalFrom(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
