package s3server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/kms"
)

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// mountKMSRoutes wires the AWS-KMS-style JSON-over-HTTP operations onto
// r. Binary fields (plaintext, ciphertext blobs) are []byte on these
// request/response structs, which encoding/json already represents as
// base64 on the wire -- no separate encode/decode step is needed.
func mountKMSRoutes(r chi.Router, svc *kms.Service) {
	r.Post("/CreateKey", kmsHandler(func(body []byte) (any, error) {
		var req struct {
			Description string `json:"Description"`
			KeyUsage    string `json:"KeyUsage"`
			KeySpec     string `json:"KeySpec"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, malformedJSON(err)
		}
		meta, err := svc.CreateKey(kms.CreateKeyInput{
			Description: req.Description,
			KeyUsage:    kms.KeyUsage(req.KeyUsage),
			KeySpec:     kms.KeySpec(req.KeySpec),
		})
		if err != nil {
			return nil, err
		}
		return struct {
			KeyMetadata kms.KeyMetadata `json:"KeyMetadata"`
		}{meta}, nil
	}))

	r.Post("/DescribeKey", kmsHandler(func(body []byte) (any, error) {
		req, err := decodeKeyID(body)
		if err != nil {
			return nil, err
		}
		meta, err := svc.DescribeKey(req)
		if err != nil {
			return nil, err
		}
		return struct {
			KeyMetadata kms.KeyMetadata `json:"KeyMetadata"`
		}{meta}, nil
	}))

	r.Post("/ListKeys", kmsHandler(func(body []byte) (any, error) {
		return struct {
			Keys []kms.KeyMetadata `json:"Keys"`
		}{svc.ListKeys()}, nil
	}))

	r.Post("/EnableKey", kmsHandler(func(body []byte) (any, error) {
		req, err := decodeKeyID(body)
		if err != nil {
			return nil, err
		}
		if err := svc.EnableKey(req); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}))

	r.Post("/DisableKey", kmsHandler(func(body []byte) (any, error) {
		req, err := decodeKeyID(body)
		if err != nil {
			return nil, err
		}
		if err := svc.DisableKey(req); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	}))

	r.Post("/ScheduleKeyDeletion", kmsHandler(func(body []byte) (any, error) {
		var req struct {
			KeyID               string `json:"KeyId"`
			PendingWindowInDays int    `json:"PendingWindowInDays"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, malformedJSON(err)
		}
		deletionDate, err := svc.ScheduleKeyDeletion(req.KeyID, req.PendingWindowInDays)
		if err != nil {
			return nil, err
		}
		return struct {
			KeyID        string `json:"KeyId"`
			DeletionDate string `json:"DeletionDate"`
		}{req.KeyID, deletionDate.Format("2006-01-02T15:04:05Z")}, nil
	}))

	r.Post("/Encrypt", kmsHandler(func(body []byte) (any, error) {
		var req struct {
			KeyID             string            `json:"KeyId"`
			Plaintext         []byte            `json:"Plaintext"`
			EncryptionContext map[string]string `json:"EncryptionContext"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, malformedJSON(err)
		}
		out, err := svc.Encrypt(req.KeyID, req.Plaintext, req.EncryptionContext)
		if err != nil {
			return nil, err
		}
		return struct {
			CiphertextBlob []byte `json:"CiphertextBlob"`
			KeyID          string `json:"KeyId"`
		}{out.CiphertextBlob, out.KeyID}, nil
	}))

	r.Post("/Decrypt", kmsHandler(func(body []byte) (any, error) {
		var req struct {
			CiphertextBlob    []byte            `json:"CiphertextBlob"`
			EncryptionContext map[string]string `json:"EncryptionContext"`
			KeyID             string            `json:"KeyId"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, malformedJSON(err)
		}
		out, err := svc.Decrypt(req.CiphertextBlob, req.EncryptionContext, req.KeyID)
		if err != nil {
			return nil, err
		}
		return struct {
			Plaintext []byte `json:"Plaintext"`
			KeyID     string `json:"KeyId"`
		}{out.Plaintext, out.KeyID}, nil
	}))
}

func decodeKeyID(body []byte) (string, error) {
	var req struct {
		KeyID string `json:"KeyId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return "", malformedJSON(err)
	}
	if req.KeyID == "" {
		return "", apierr.New(apierr.KindUser, apierr.CodeInvalidInput, "KeyId is required")
	}
	return req.KeyID, nil
}

func malformedJSON(cause error) error {
	return apierr.Wrap(apierr.KindUser, apierr.CodeInvalidInput, "malformed request body", cause)
}

func kmsHandler(fn func(body []byte) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readAll(r)
		if err != nil {
			writeJSONError(w, apierr.Wrap(apierr.KindIO, apierr.CodeIOError, "failed to read request body", err))
			return
		}
		resp, err := fn(body)
		if err != nil {
			writeJSONError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.KindUnknown, apierr.CodeInternal, "internal error", err)
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}{string(apiErr.Code), apiErr.Message})
}
