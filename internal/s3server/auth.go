package s3server

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/sigv4"
)

// Credential is one access-key/secret-key pair the server will accept
// signed requests for.
type Credential struct {
	AccessKey string
	SecretKey string
	Principal string // access.Request.Principal this key authenticates as
}

// CredentialStore resolves an access key to its secret, for signature
// verification.
type CredentialStore interface {
	Lookup(accessKey string) (Credential, bool)
}

// StaticCredentials is a CredentialStore backed by a fixed in-memory set.
type StaticCredentials map[string]Credential

func (s StaticCredentials) Lookup(accessKey string) (Credential, bool) {
	c, ok := s[accessKey]
	return c, ok
}

type ctxKeyPrincipal struct{}

func principalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(ctxKeyPrincipal{}).(string)
	if p == "" {
		return "anonymous"
	}
	return p
}

// authMiddleware verifies the SigV4 Authorization header when present.
// Unsigned requests pass through as the anonymous principal; the access
// decision engine downstream is what actually denies them.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, "anonymous")))
			return
		}

		bodyHash := r.Header.Get("x-amz-content-sha256")
		if bodyHash == "" {
			bodyHash = sigv4.UnsignedPayload
		}
		if bodyHash != sigv4.UnsignedPayload {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read request body", err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			if sigv4.SHA256Hex(body) != bodyHash {
				writeError(w, r, apierr.New(apierr.KindAuthentication, apierr.CodeSignatureDoesNotMatch, "content hash mismatch"))
				return
			}
		}

		accessKey, err := sigv4.Verify(r, bodyHash, func(accessKey string) (string, bool) {
			c, ok := s.credentials.Lookup(accessKey)
			if !ok {
				return "", false
			}
			return c.SecretKey, true
		})
		if err != nil {
			writeError(w, r, apierr.New(apierr.KindAuthentication, apierr.CodeSignatureDoesNotMatch, "signature verification failed"))
			return
		}

		cred, _ := s.credentials.Lookup(accessKey)
		principal := cred.Principal
		if principal == "" {
			principal = accessKey
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal{}, principal)))
	})
}
