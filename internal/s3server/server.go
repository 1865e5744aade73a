package s3server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/cybou-fr/cybs3/internal/access"
	"github.com/cybou-fr/cybs3/internal/kms"
	"github.com/cybou-fr/cybs3/internal/storage"
)

// Server holds the dependencies the HTTP handlers are built from: a
// storage backend, the credential set used for SigV4 verification, and
// an optional KMS service mounted at the JSON-over-HTTP KMS routes.
type Server struct {
	backend     storage.Backend
	credentials CredentialStore
	kmsSvc      *kms.Service
	ownerID     string
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithKMS mounts the KMS JSON-over-HTTP routes against svc.
func WithKMS(svc *kms.Service) Option {
	return func(s *Server) { s.kmsSvc = svc }
}

// WithOwnerID sets the owner id reported in ListBuckets and default ACLs.
func WithOwnerID(id string) Option {
	return func(s *Server) { s.ownerID = id }
}

// New builds a Server over backend, authenticating requests against
// credentials.
func New(backend storage.Backend, credentials CredentialStore, opts ...Option) *Server {
	s := &Server{backend: backend, credentials: credentials, ownerID: "cybs3"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route tree: CORS, then SigV4 auth, then the
// bucket/object/KMS routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"ETag", "x-amz-version-id"},
		AllowCredentials: false,
	}))
	r.Use(s.authMiddleware)

	if s.kmsSvc != nil {
		mountKMSRoutes(r, s.kmsSvc)
	}

	r.Get("/", s.handleListBuckets)
	r.Route("/{bucket}", func(r chi.Router) {
		r.Put("/", s.handleBucketRequest)
		r.Delete("/", s.handleDeleteBucket)
		r.Head("/", s.handleHeadBucket)
		r.Get("/", s.handleBucketRequest)

		r.Put("/*", s.handleObjectPut)
		r.Post("/*", s.handleObjectPost)
		r.Get("/*", s.handleObjectGet)
		r.Head("/*", s.handleObjectHead)
		r.Delete("/*", s.handleObjectDelete)
	})
	return r
}

// backendLookup is an access.Lookup backed by s.backend for a single
// decision -- cheap enough to construct per-request since it carries no
// state of its own beyond the context and backend reference.
type backendLookup struct {
	ctx     context.Context
	backend storage.Backend
}

func (l backendLookup) BucketExists(bucket string) bool {
	return l.backend.HeadBucket(l.ctx, bucket) == nil
}

func (l backendLookup) ObjectExists(bucket, key, version string) bool {
	_, err := l.backend.Head(l.ctx, bucket, key, version)
	return err == nil
}

func (l backendLookup) PolicyFor(bucket string) (access.Policy, bool) {
	cfg, err := l.backend.BucketConfig(l.ctx, bucket)
	if err != nil || len(cfg.Policy) == 0 {
		return access.Policy{}, false
	}
	var p access.Policy
	if json.Unmarshal(cfg.Policy, &p) != nil {
		return access.Policy{}, false
	}
	return p, true
}

func (l backendLookup) ACLFor(bucket, key, version string) (access.ACL, bool) {
	cfg, err := l.backend.BucketConfig(l.ctx, bucket)
	if err != nil || len(cfg.ACL) == 0 {
		return access.ACL{}, false
	}
	var a access.ACL
	if json.Unmarshal(cfg.ACL, &a) != nil {
		return access.ACL{}, false
	}
	return a, true
}

// authorize runs the access decision for req against s.backend's
// current bucket policy/ACL state.
func (s *Server) authorize(ctx context.Context, req access.Request) error {
	return access.Decide(req, backendLookup{ctx: ctx, backend: s.backend})
}
