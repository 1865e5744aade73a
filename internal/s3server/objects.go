package s3server

import (
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cybou-fr/cybs3/internal/access"
	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/storage"
)

func objectKey(r *http.Request) string {
	return chi.URLParam(r, "*")
}

func (s *Server) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	q := r.URL.Query()

	if _, ok := q["partNumber"]; ok {
		s.handleUploadPart(w, r)
		return
	}

	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionPutObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}

	if copySource := r.Header.Get("x-amz-copy-source"); copySource != "" {
		srcBucket, srcKey := splitCopySource(copySource)
		info, err := s.backend.Copy(ctx, srcBucket, srcKey, "", bucket, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("ETag", `"`+info.ETag+`"`)
		w.WriteHeader(http.StatusOK)
		return
	}

	in := storage.PutInput{
		Bucket:      bucket,
		Key:         key,
		Body:        r.Body,
		Length:      r.ContentLength,
		ContentType: r.Header.Get("Content-Type"),
		SSEKMSKeyID: r.Header.Get("x-amz-server-side-encryption-aws-kms-key-id"),
	}
	info, err := s.backend.Put(ctx, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+info.ETag+`"`)
	w.WriteHeader(http.StatusOK)
}

func splitCopySource(src string) (bucket, key string) {
	src = strings.TrimPrefix(src, "/")
	parts := strings.SplitN(src, "/", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func (s *Server) handleObjectPost(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	q := r.URL.Query()
	ctx := r.Context()

	if _, ok := q["uploads"]; ok {
		if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionPutObject, Principal: principalFromContext(ctx)}); err != nil {
			writeError(w, r, err)
			return
		}
		uploadID, err := s.backend.InitiateMultipartUpload(ctx, bucket, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeXML(w, http.StatusOK, initiateMultipartUploadResult{Xmlns: s3Xmlns, Bucket: bucket, Key: key, UploadID: uploadID})
		return
	}

	if uploadID := q.Get("uploadId"); uploadID != "" {
		s.handleCompleteMultipartUpload(w, r, bucket, key, uploadID)
		return
	}

	writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "unsupported POST request"))
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	q := r.URL.Query()
	ctx := r.Context()

	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionPutObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil {
		writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "partNumber must be an integer"))
		return
	}
	etag, err := s.backend.UploadPart(ctx, bucket, key, q.Get("uploadId"), partNumber, r.Body, r.ContentLength)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key, uploadID string) {
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionPutObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read complete-multipart body", err))
		return
	}
	var req completeMultipartUpload
	if xml.Unmarshal(body, &req) != nil {
		writeError(w, r, apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "malformed CompleteMultipartUpload body"))
		return
	}
	parts := make([]storage.UploadPartInfo, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = storage.UploadPartInfo{PartNumber: p.PartNumber, ETag: strings.Trim(p.ETag, `"`)}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	info, err := s.backend.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Xmlns: s3Xmlns, Bucket: bucket, Key: key, Location: "/" + bucket + "/" + key, ETag: `"` + info.ETag + `"`,
	})
}

func (s *Server) handleObjectGet(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionGetObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	body, info, err := s.backend.Get(ctx, bucket, key, r.URL.Query().Get("versionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("ETag", `"`+info.ETag+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.VersionID != "" {
		w.Header().Set("x-amz-version-id", info.VersionID)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (s *Server) handleObjectHead(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	ctx := r.Context()
	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionHeadObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.backend.Head(ctx, bucket, key, r.URL.Query().Get("versionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+info.ETag+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleObjectDelete(w http.ResponseWriter, r *http.Request) {
	bucket, key := chi.URLParam(r, "bucket"), objectKey(r)
	q := r.URL.Query()
	ctx := r.Context()

	if uploadID := q.Get("uploadId"); uploadID != "" {
		if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionPutObject, Principal: principalFromContext(ctx)}); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.backend.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.authorize(ctx, access.Request{Bucket: bucket, Key: key, Action: access.ActionDeleteObject, Principal: principalFromContext(ctx)}); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.backend.Delete(ctx, bucket, key, q.Get("versionId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
