package s3client

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybou-fr/cybs3/internal/s3server"
	"github.com/cybou-fr/cybs3/internal/storage"
)

const testAccessKey = "AKIDTEST"
const testSecretKey = "secretkey"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	backend, err := storage.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	creds := s3server.StaticCredentials{
		testAccessKey: s3server.Credential{AccessKey: testAccessKey, SecretKey: testSecretKey, Principal: "owner"},
	}
	srv := s3server.New(backend, creds, s3server.WithOwnerID("owner"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	dataKey := make([]byte, 32)
	_, err := rand.Read(dataKey)
	require.NoError(t, err)
	return New(Config{
		Endpoint:   ts.URL,
		Region:     "us-east-1",
		AccessKey:  testAccessKey,
		SecretKey:  testSecretKey,
		DataKey:    dataKey,
		HTTPClient: ts.Client(),
	})
}

func createBucket(t *testing.T, c *Client, bucket string) {
	t.Helper()
	resp, err := c.do(context.Background(), http.MethodPut, "/"+bucket, nil, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestPutGetObjectRoundTripSmall(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	createBucket(t, c, "mybucket")

	plaintext := []byte("hello, encrypted world")
	require.NoError(t, c.PutObject(context.Background(), "mybucket", "greeting.txt", bytes.NewReader(plaintext), int64(len(plaintext))))

	r, err := c.GetObject(context.Background(), "mybucket", "greeting.txt")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestPutGetObjectRoundTripMultipart(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	createBucket(t, c, "mybucket")

	// Large enough to cross multipartThreshold and span several
	// DefaultChunkSize-sized parts.
	plaintext := make([]byte, multipartThreshold+3*(1<<20)+12345)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	require.NoError(t, c.PutObject(context.Background(), "mybucket", "big.bin", bytes.NewReader(plaintext), int64(len(plaintext))))

	r, err := c.GetObject(context.Background(), "mybucket", "big.bin")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDeleteObjectThenGetFails(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts)
	createBucket(t, c, "mybucket")

	plaintext := []byte("ephemeral")
	require.NoError(t, c.PutObject(context.Background(), "mybucket", "key.txt", bytes.NewReader(plaintext), int64(len(plaintext))))
	require.NoError(t, c.DeleteObject(context.Background(), "mybucket", "key.txt"))

	_, err := c.GetObject(context.Background(), "mybucket", "key.txt")
	require.Error(t, err)
}
