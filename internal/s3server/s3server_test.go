package s3server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/kms"
	"github.com/cybou-fr/cybs3/internal/sigv4"
	"github.com/cybou-fr/cybs3/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *sigv4.Signer) {
	t.Helper()
	backend, err := storage.NewFSBackend(t.TempDir())
	require.NoError(t, err)

	creds := StaticCredentials{
		"AKIDTEST": Credential{AccessKey: "AKIDTEST", SecretKey: "secretkey", Principal: "owner"},
	}
	srv := New(backend, creds, WithOwnerID("owner"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sigv4.NewSigner("AKIDTEST", "secretkey", "us-east-1")
}

func signedRequest(t *testing.T, signer *sigv4.Signer, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	hash := sigv4.SHA256Hex(body)
	signer.Sign(req, hash, nil)
	return req
}

func TestCreateBucketPutGetObjectRoundTrip(t *testing.T) {
	ts, signer := newTestServer(t)

	req := signedRequest(t, signer, http.MethodPut, ts.URL+"/mybucket", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	body := []byte("hello world")
	req = signedRequest(t, signer, http.MethodPut, ts.URL+"/mybucket/greeting.txt", body)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req = signedRequest(t, signer, http.MethodGet, ts.URL+"/mybucket/greeting.txt", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestUnsignedRequestToPrivateBucketIsDenied(t *testing.T) {
	ts, signer := newTestServer(t)
	req := signedRequest(t, signer, http.MethodPut, ts.URL+"/private", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	anon, err := http.NewRequest(http.MethodGet, ts.URL+"/private/secret.txt", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(anon)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestWrongSignatureRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	badSigner := sigv4.NewSigner("AKIDTEST", "wrongsecret", "us-east-1")
	req := signedRequest(t, badSigner, http.MethodPut, ts.URL+"/mybucket", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestKMSCreateEncryptDecryptOverHTTP(t *testing.T) {
	backend, err := storage.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	svc, err := kms.Open(t.TempDir()+"/keys.json", nil)
	require.NoError(t, err)

	creds := StaticCredentials{"AKIDTEST": Credential{AccessKey: "AKIDTEST", SecretKey: "secretkey", Principal: "owner"}}
	srv := New(backend, creds, WithKMS(svc), WithOwnerID("owner"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	signer := sigv4.NewSigner("AKIDTEST", "secretkey", "us-east-1")

	createBody, _ := json.Marshal(map[string]string{"Description": "test key"})
	req := signedRequest(t, signer, http.MethodPost, ts.URL+"/CreateKey", createBody)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var createResp struct {
		KeyMetadata struct {
			KeyID string `json:"key_id"`
		} `json:"KeyMetadata"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&createResp))
	resp.Body.Close()
	require.NotEmpty(t, createResp.KeyMetadata.KeyID)

	encBody, _ := json.Marshal(map[string]any{
		"KeyId":     createResp.KeyMetadata.KeyID,
		"Plaintext": []byte("top secret"),
	})
	req = signedRequest(t, signer, http.MethodPost, ts.URL+"/Encrypt", encBody)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var encResp struct {
		CiphertextBlob []byte `json:"CiphertextBlob"`
		KeyID          string `json:"KeyId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&encResp))
	resp.Body.Close()
	assert.NotEmpty(t, encResp.CiphertextBlob)

	decBody, _ := json.Marshal(map[string]any{
		"CiphertextBlob": encResp.CiphertextBlob,
		"KeyId":          createResp.KeyMetadata.KeyID,
	})
	req = signedRequest(t, signer, http.MethodPost, ts.URL+"/Decrypt", decBody)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var decResp struct {
		Plaintext []byte `json:"Plaintext"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decResp))
	resp.Body.Close()
	assert.Equal(t, "top secret", string(decResp.Plaintext))
}

func TestListBucketsOnlyShowsAuthorized(t *testing.T) {
	ts, signer := newTestServer(t)
	for _, b := range []string{"alpha", "beta"} {
		req := signedRequest(t, signer, http.MethodPut, ts.URL+"/"+b, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	req := signedRequest(t, signer, http.MethodGet, ts.URL+"/", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "alpha")
	assert.Contains(t, string(body), "beta")
}
