package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ironsupr/AutoDeployHub/pkg/jwt"
)

type authContextKey struct{}

// authInfo identifies the token holder behind a request.
type authInfo struct {
	Subject string
}

type contextSetter interface {
	SetContext(context.Context)
}

var (
	errNoAuthorization = errors.New("missing authorization header")
	errNotBearer       = errors.New("authorization header is not a bearer token")
)

// requireAuth rejects requests without a valid API token. The token subject is
// attached to the request context and handed to the audit recorder.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		raw, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("api token missing", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(raw, r.jwtSecret)
		if err != nil {
			r.logger.Warn("api token rejected", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		ctx := context.WithValue(req.Context(), authContextKey{}, authInfo{Subject: claims.Subject})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	info, ok := ctx.Value(authContextKey{}).(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if scheme == "" {
		return "", errNoAuthorization
	}
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", errNotBearer
	}
	return token, nil
}
