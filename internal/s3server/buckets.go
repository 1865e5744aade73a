package s3server

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cybou-fr/cybs3/internal/access"
	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/storage"
)

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := principalFromContext(ctx)

	names, err := s.backend.ListBuckets(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	buckets := make([]xmlBucket, 0, len(names))
	for _, name := range names {
		if s.authorize(ctx, access.Request{Bucket: name, Action: access.ActionListBucket, Principal: principal}) != nil {
			continue
		}
		buckets = append(buckets, xmlBucket{Name: name, CreationDate: time.Now().UTC().Format("2006-01-02T15:04:05.000Z")})
	}

	writeXML(w, http.StatusOK, listAllMyBucketsResult{
		Xmlns:   s3Xmlns,
		Owner:   xmlOwner{ID: s.ownerID, DisplayName: s.ownerID},
		Buckets: buckets,
	})
}

// handleBucketRequest dispatches GET/PUT on /{bucket} across the plain
// bucket operation and its query-string subresources.
func (s *Server) handleBucketRequest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case r.Method == http.MethodPut && hasQuery(q, "policy"):
		s.handleBucketPolicy(w, r, true)
	case r.Method == http.MethodGet && hasQuery(q, "policy"):
		s.handleBucketPolicy(w, r, false)
	case r.Method == http.MethodPut && hasQuery(q, "acl"):
		s.handleBucketACL(w, r, true)
	case r.Method == http.MethodGet && hasQuery(q, "acl"):
		s.handleBucketACL(w, r, false)
	case r.Method == http.MethodPut && hasQuery(q, "versioning"):
		s.handleBucketVersioning(w, r, true)
	case r.Method == http.MethodGet && hasQuery(q, "versioning"):
		s.handleBucketVersioning(w, r, false)
	case hasQuery(q, "tagging"):
		s.handleBucketTagging(w, r)
	case hasQuery(q, "lifecycle"):
		s.handleBucketLifecycle(w, r)
	case r.Method == http.MethodPut && hasQuery(q, "notification"):
		s.handleBucketNotification(w, r, true)
	case r.Method == http.MethodGet && hasQuery(q, "notification"):
		s.handleBucketNotification(w, r, false)
	case hasQuery(q, "vpc"):
		s.handleBucketVPC(w, r)
	case r.Method == http.MethodGet && hasQuery(q, "versions"):
		s.handleListObjectVersions(w, r)
	case r.Method == http.MethodGet:
		s.handleListObjects(w, r)
	case r.Method == http.MethodPut:
		s.handleCreateBucket(w, r)
	default:
		writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "unsupported bucket request"))
	}
}

func hasQuery(q map[string][]string, key string) bool {
	_, ok := q[key]
	return ok
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Action: access.ActionCreateBucket, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	if r.ContentLength > 0 {
		var cfg createBucketConfiguration
		body, _ := io.ReadAll(r.Body)
		_ = xml.Unmarshal(body, &cfg) // LocationConstraint is accepted but not enforced
	}
	if err := s.backend.CreateBucket(ctx, bucket); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Action: access.ActionDeleteObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.backend.DeleteBucket(ctx, bucket); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeadBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	if err := s.backend.HeadBucket(r.Context(), bucket); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Action: access.ActionListBucket, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	maxKeys, _ := strconv.Atoi(q.Get("max-keys"))
	in := storage.ListObjectsInput{
		Bucket:            bucket,
		Prefix:            q.Get("prefix"),
		Delimiter:         q.Get("delimiter"),
		Marker:            q.Get("marker"),
		ContinuationToken: q.Get("continuation-token"),
		MaxKeys:           maxKeys,
	}
	out, err := s.backend.ListObjects(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := listBucketResult{
		Xmlns:                  s3Xmlns,
		Name:                   bucket,
		Prefix:                 in.Prefix,
		Delimiter:              in.Delimiter,
		MaxKeys:                in.MaxKeys,
		IsTruncated:            out.IsTruncated,
		NextMarker:             out.NextMarker,
		NextContinuationToken:  out.NextContinuationToken,
	}
	if q.Get("list-type") == "2" {
		result.ContinuationToken = in.ContinuationToken
	} else {
		result.Marker = in.Marker
	}
	for _, o := range out.Objects {
		result.Contents = append(result.Contents, xmlContent{
			Key: o.Key, LastModified: s3Time(o.LastModified), ETag: `"` + o.ETag + `"`,
			Size: o.Size, StorageClass: "STANDARD",
		})
	}
	for _, p := range out.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, xmlCommonPrefix{Prefix: p})
	}
	writeXML(w, http.StatusOK, result)
}

func (s *Server) handleListObjectVersions(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Action: access.ActionListBucket, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	out, err := s.backend.ListObjectVersions(ctx, storage.ListObjectsInput{
		Bucket: bucket, Prefix: q.Get("prefix"), Delimiter: q.Get("delimiter"), Marker: q.Get("key-marker"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	result := listVersionsResult{Xmlns: s3Xmlns, Name: bucket, Prefix: q.Get("prefix"), IsTruncated: out.IsTruncated}
	for _, o := range out.Objects {
		entry := xmlVersionEntry{Key: o.Key, VersionID: o.VersionID, IsLatest: o.IsLatest, LastModified: s3Time(o.LastModified), ETag: `"` + o.ETag + `"`, Size: o.Size}
		if o.IsDeleteMarker {
			result.DeleteMarker = append(result.DeleteMarker, entry)
		} else {
			result.Version = append(result.Version, entry)
		}
	}
	writeXML(w, http.StatusOK, result)
}

func (s *Server) handleBucketPolicy(w http.ResponseWriter, r *http.Request, write bool) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if write {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read policy body", err))
			return
		}
		var policy access.Policy
		if json.Unmarshal(body, &policy) != nil {
			writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "malformed bucket policy"))
			return
		}
		cfg, err := s.backend.BucketConfig(ctx, bucket)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cfg.Policy = body
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(cfg.Policy) == 0 {
		writeError(w, r, apierr.New(apierr.KindResource, apierr.CodeConfigurationNotFound, "bucket has no policy").WithResource(bucket))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(cfg.Policy)
}

func (s *Server) handleBucketACL(w http.ResponseWriter, r *http.Request, write bool) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	if write {
		var acl access.ACL
		if canned := r.Header.Get("x-amz-acl"); canned != "" {
			expanded, err := access.ExpandCanned(access.CannedACL(canned), s.ownerID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			acl = expanded
		} else {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read ACL body", err))
				return
			}
			if json.Unmarshal(body, &acl) != nil {
				writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "malformed ACL"))
				return
			}
		}
		cfg, err := s.backend.BucketConfig(ctx, bucket)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cfg.ACL, _ = json.Marshal(acl)
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if len(cfg.ACL) == 0 {
		_, _ = w.Write([]byte(`{}`))
		return
	}
	_, _ = w.Write(cfg.ACL)
}

func (s *Server) handleBucketVersioning(w http.ResponseWriter, r *http.Request, write bool) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if write {
		var body struct {
			Status string `xml:"Status"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = xml.Unmarshal(raw, &body)
		cfg.VersioningEnabled = body.Status == "Enabled"
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	status := "Suspended"
	if cfg.VersioningEnabled {
		status = "Enabled"
	}
	writeXML(w, http.StatusOK, struct {
		XMLName xml.Name `xml:"VersioningConfiguration"`
		Status  string   `xml:"Status"`
	}{Status: status})
}

func (s *Server) handleBucketTagging(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPut:
		var body struct {
			TagSet []struct {
				Key   string `xml:"Key"`
				Value string `xml:"Value"`
			} `xml:"TagSet>Tag"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = xml.Unmarshal(raw, &body)
		tags := make(map[string]string, len(body.TagSet))
		for _, t := range body.TagSet {
			tags[t.Key] = t.Value
		}
		cfg.Tags = tags
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		cfg.Tags = nil
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		type tag struct {
			Key   string `xml:"Key"`
			Value string `xml:"Value"`
		}
		var tags []tag
		for k, v := range cfg.Tags {
			tags = append(tags, tag{Key: k, Value: v})
		}
		writeXML(w, http.StatusOK, struct {
			XMLName xml.Name `xml:"Tagging"`
			TagSet  []tag    `xml:"TagSet>Tag"`
		}{TagSet: tags})
	}
}

func (s *Server) handleBucketLifecycle(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPut:
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read lifecycle body", err))
			return
		}
		cfg.LifecycleRules = raw
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		cfg.LifecycleRules = nil
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		if len(cfg.LifecycleRules) == 0 {
			writeError(w, r, apierr.New(apierr.KindResource, apierr.CodeConfigurationNotFound, "no lifecycle configuration").WithResource(bucket))
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(cfg.LifecycleRules)
	}
}

func (s *Server) handleBucketNotification(w http.ResponseWriter, r *http.Request, write bool) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if write {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read notification body", err))
			return
		}
		cfg.Notification = raw
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	if len(cfg.Notification) == 0 {
		_, _ = w.Write([]byte(`<NotificationConfiguration></NotificationConfiguration>`))
		return
	}
	_, _ = w.Write(cfg.Notification)
}

func (s *Server) handleBucketVPC(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	ctx := r.Context()
	cfg, err := s.backend.BucketConfig(ctx, bucket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch r.Method {
	case http.MethodPut:
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read VPC config body", err))
			return
		}
		cfg.VPCConfig = raw
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		cfg.VPCConfig = nil
		if err := s.backend.SetBucketConfig(ctx, bucket, cfg); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
