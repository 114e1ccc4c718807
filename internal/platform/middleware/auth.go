package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"fabrica/internal/signer"
	"fabrica/pkg/requestcontext"
)

// CredentialValidator validates an internal signer's bearer credential and
// returns the qualified-signature claims bound to it.
type CredentialValidator interface {
	ValidateCredential(tokenString string) (*signer.Credential, error)
}

// RequireSigner guards internal endpoints. The external signing entry point
// does not use it: the counter-party authenticates with a verification code,
// not a credential.
func RequireSigner(validator CredentialValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				unauthorized(w)
				return
			}

			cred, err := validator.ValidateCredential(token)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected signer credential",
					"error", err,
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w)
				return
			}

			ctx := requestcontext.WithActorID(r.Context(), cred.SignerID)
			ctx = requestcontext.WithActorName(ctx, cred.Name)
			ctx = signer.WithCredential(ctx, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
