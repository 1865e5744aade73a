// Package s3client is the signing-and-streaming client: it drives
// requests against a cybs3 (or any S3-compatible) endpoint through
// internal/sigv4 for request signing, internal/streamcrypt for
// client-side chunked encryption, and internal/resilience for
// retry/circuit-breaker protected transport.
package s3client

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cybou-fr/cybs3/internal/apierr"
	"github.com/cybou-fr/cybs3/internal/resilience"
	"github.com/cybou-fr/cybs3/internal/sigv4"
)

// multipartThreshold is the plaintext size above which Put switches
// from a single buffered request to a part-by-part multipart upload,
// mirroring the size-based direct-vs-streaming split guided-traffic's
// object handler makes on Content-Length.
const multipartThreshold = 8 << 20 // 8 MiB

// Config configures a Client.
type Config struct {
	Endpoint  string // e.g. "https://storage.example.com"
	Region    string
	AccessKey string
	SecretKey string

	// DataKey is the 32-byte key streamcrypt seals/opens object bodies
	// with. The caller derives it from a keystore.Store.
	DataKey []byte

	HTTPClient *http.Client
	Retry      resilience.RetryPolicy
	Breaker    *resilience.CircuitBreaker
}

// Client is a single-owner task: a *Client is safe to share across
// goroutines, with resilience.CircuitBreaker's own mutex serializing
// the only shared mutable state (failure bookkeeping).
type Client struct {
	endpoint   string
	signer     *sigv4.Signer
	dataKey    []byte
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.CircuitBreaker
}

// New builds a Client from cfg, defaulting the HTTP client and retry
// policy when unset.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.RetryPolicy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(5, 30*time.Second)
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		signer:     sigv4.NewSigner(cfg.AccessKey, cfg.SecretKey, cfg.Region),
		dataKey:    cfg.DataKey,
		httpClient: httpClient,
		retry:      retry,
		breaker:    breaker,
	}
}

func objectPath(bucket, key string) string {
	return "/" + bucket + "/" + key
}

// do sends a signed request and retries it through the circuit
// breaker per c.retry, reusing bodyBytes to re-sign and resend the
// request on each attempt (an *http.Request's body can only be read
// once).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bodyBytes []byte, headers http.Header) (*http.Response, error) {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var resp *http.Response
	err := c.breaker.Do(func() error {
		return resilience.Do(ctx, c.retry, isRetryable, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, method, u, newBodyReader(bodyBytes))
			if err != nil {
				return apierr.Wrap(apierr.KindTransport, apierr.CodeInvalidInput, "failed to build request", err)
			}
			for k, vs := range headers {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			c.signer.Sign(req, sigv4.SHA256Hex(bodyBytes), nil)

			r, err := c.httpClient.Do(req)
			if err != nil {
				return apierr.Wrap(apierr.KindTransport, apierr.CodeInvalidResponse, "request failed", err)
			}
			if r.StatusCode >= 400 {
				defer r.Body.Close()
				apiErr := parseErrorResponse(r)
				if isRetryable(apiErr) {
					return apiErr
				}
				resp = r
				return &nonRetryableError{apiErr}
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		if nr, ok := err.(*nonRetryableError); ok {
			return resp, nr.err
		}
		return nil, err
	}
	return resp, nil
}

// nonRetryableError lets do() surface a terminal apierr.Error from
// inside resilience.Do/CircuitBreaker.Do without it being mistaken for
// a retryable transport failure on the way back out.
type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

func newBodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// isRetryable classifies transport errors and 5xx/429/408 responses as
// worth retrying; anything wrapped as a non-transport apierr.Error
// (bad credentials, no such bucket, a client-side encryption error) is
// not, matching apierr.Error.Retryable's own rule that crypto/protocol
// errors never are.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*nonRetryableError); ok {
		return false
	}
	apiErr, ok := apierr.As(err)
	if !ok {
		return true
	}
	return apiErr.Kind == apierr.KindTransport
}

// parseErrorResponse decodes an S3-style XML error body into an
// apierr.Error carrying the wire status as its classification.
func parseErrorResponse(r *http.Response) *apierr.Error {
	var body struct {
		Code     string `xml:"Code"`
		Message  string `xml:"Message"`
		Resource string `xml:"Resource"`
	}
	_ = xml.NewDecoder(r.Body).Decode(&body)
	if body.Code == "" {
		body.Code = "InternalError"
	}
	kind := apierr.KindTransport
	switch r.StatusCode {
	case http.StatusForbidden:
		kind = apierr.KindAuthentication
	case http.StatusNotFound, http.StatusConflict:
		kind = apierr.KindResource
	case http.StatusBadRequest:
		kind = apierr.KindUser
	default:
		if r.StatusCode < 500 && r.StatusCode != http.StatusTooManyRequests && r.StatusCode != http.StatusRequestTimeout {
			kind = apierr.KindProtocol
		}
	}
	e := apierr.New(kind, apierr.Code(body.Code), body.Message)
	if body.Resource != "" {
		e = e.WithResource(body.Resource)
	}
	return e
}

