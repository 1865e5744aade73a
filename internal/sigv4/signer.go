// Package sigv4 implements AWS Signature Version 4 request signing,
// bit-for-bit compatible with the AWS reference algorithm.
//
// This consolidates what would otherwise be two duplicate
// implementations in the source (an actor-wrapped signer and a plain
// struct) into the one Signer type here; callers that need serialized
// access already go through s3client.Client's single-writer discipline.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// UnsignedPayload is the literal body-hash value used for streamed
// request bodies whose SHA-256 cannot be computed up front.
const UnsignedPayload = "UNSIGNED-PAYLOAD"

const algorithm = "AWS4-HMAC-SHA256"
const timeFormat = "20060102T150405Z"

// unreserved is the AWS path-segment unreserved character set.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	}
	return false
}

func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			b.WriteString("%")
			b.WriteString(strings.ToUpper(hexByte(c)))
		}
	}
	return b.String()
}

func hexByte(b byte) string {
	const hexdigits = "0123456789ABCDEF"
	return string([]byte{hexdigits[b>>4], hexdigits[b&0x0f]})
}

// Signer signs HTTP requests with AWS SigV4.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string

	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// NewSigner builds a Signer for the given credentials/region.
func NewSigner(accessKey, secretKey, region string) *Signer {
	return &Signer{AccessKey: accessKey, SecretKey: secretKey, Region: region, Now: time.Now}
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign signs req in place, setting Host, x-amz-date,
// x-amz-content-sha256, any extra headers, and Authorization. bodyHash
// is the lowercase hex SHA-256 of the body, or UnsignedPayload for
// streamed bodies.
func (s *Signer) Sign(req *http.Request, bodyHash string, extra http.Header) {
	ts := s.now().UTC().Format(timeFormat)
	dateStamp := ts[:8]

	if req.Host == "" {
		req.Host = req.URL.Host
	}

	req.Header.Set("Host", req.Host)
	req.Header.Set("x-amz-date", ts)
	req.Header.Set("x-amz-content-sha256", bodyHash)
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	signedHeaders, canonicalHeaders := canonicalizeHeaders(req.Header)
	canonicalQuery := canonicalizeQuery(req.URL.RawQuery)
	canonicalPath := canonicalizePath(req.URL.Path)

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalPath,
		canonicalQuery,
		canonicalHeaders,
		"",
		signedHeaders,
		bodyHash,
	}, "\n")

	credentialScope := dateStamp + "/" + s.Region + "/s3/aws4_request"
	stringToSign := strings.Join([]string{
		algorithm,
		ts,
		credentialScope,
		hex.EncodeToString(sha256Sum(canonicalRequest)),
	}, "\n")

	signingKey := s.signingKey(dateStamp)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	auth := algorithm + " Credential=" + s.AccessKey + "/" + credentialScope +
		", SignedHeaders=" + signedHeaders + ", Signature=" + signature
	req.Header.Set("Authorization", auth)
}

func (s *Signer) signingKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.SecretKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, "s3")
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func sha256Sum(data string) []byte {
	sum := sha256.Sum256([]byte(data))
	return sum[:]
}

// SHA256Hex returns the lowercase hex SHA-256 of body, for callers that
// have the full body in memory (as opposed to UnsignedPayload streams).
func SHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func canonicalizeHeaders(h http.Header) (signedHeaders, canonicalHeaders string) {
	type entry struct{ k, v string }
	var entries []entry
	for k, vs := range h {
		lk := strings.ToLower(k)
		var vals []string
		for _, v := range vs {
			vals = append(vals, strings.TrimSpace(v))
		}
		entries = append(entries, entry{lk, strings.Join(vals, ",")})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].k < entries[j].k })

	var keys []string
	var lines []string
	for _, e := range entries {
		keys = append(keys, e.k)
		lines = append(lines, e.k+":"+e.v+"\n")
	}
	return strings.Join(keys, ";"), strings.Join(lines, "")
}

func canonicalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func canonicalizePath(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			decoded = seg
		}
		segments[i] = percentEncode(decoded)
	}
	return strings.Join(segments, "/")
}

// ErrMalformedAuthorization is returned when the Authorization header
// doesn't parse as an AWS4-HMAC-SHA256 credential line.
var ErrMalformedAuthorization = errors.New("sigv4: malformed Authorization header")

// ErrSignatureMismatch is returned when a request's signature doesn't
// match what the server recomputes from the looked-up secret key.
var ErrSignatureMismatch = errors.New("sigv4: signature does not match")

// parsedAuth is the Authorization header's Credential/SignedHeaders/Signature triple.
type parsedAuth struct {
	accessKey       string
	dateStamp       string
	region          string
	signedHeaders   []string
	signature       string
}

func parseAuthorization(header string) (parsedAuth, error) {
	var p parsedAuth
	if !strings.HasPrefix(header, algorithm+" ") {
		return p, ErrMalformedAuthorization
	}
	rest := strings.TrimPrefix(header, algorithm+" ")
	for _, field := range strings.Split(rest, ", ") {
		field = strings.TrimSpace(field)
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return p, ErrMalformedAuthorization
		}
		switch kv[0] {
		case "Credential":
			scope := strings.Split(kv[1], "/")
			if len(scope) != 5 {
				return p, ErrMalformedAuthorization
			}
			p.accessKey = scope[0]
			p.dateStamp = scope[1]
			p.region = scope[2]
		case "SignedHeaders":
			p.signedHeaders = strings.Split(kv[1], ";")
		case "Signature":
			p.signature = kv[1]
		}
	}
	if p.accessKey == "" || p.signature == "" || len(p.signedHeaders) == 0 {
		return p, ErrMalformedAuthorization
	}
	return p, nil
}

// Verify recomputes the signature of an inbound request and compares it
// to the Authorization header, using secretFor to resolve the access
// key in the header's Credential scope to a secret key. On success it
// returns the access key that signed the request.
func Verify(req *http.Request, bodyHash string, secretFor func(accessKey string) (secretKey string, ok bool)) (string, error) {
	header := req.Header.Get("Authorization")
	auth, err := parseAuthorization(header)
	if err != nil {
		return "", err
	}
	secretKey, ok := secretFor(auth.accessKey)
	if !ok {
		return "", ErrMalformedAuthorization
	}

	signedHeaderSet := make(http.Header, len(auth.signedHeaders))
	for _, name := range auth.signedHeaders {
		if vs, ok := req.Header[http.CanonicalHeaderKey(name)]; ok {
			signedHeaderSet[http.CanonicalHeaderKey(name)] = vs
		} else if strings.EqualFold(name, "host") {
			signedHeaderSet["Host"] = []string{req.Host}
		}
	}
	signedHeaders, canonicalHeaders := canonicalizeHeaders(signedHeaderSet)
	canonicalQuery := canonicalizeQuery(req.URL.RawQuery)
	canonicalPath := canonicalizePath(req.URL.Path)

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalPath,
		canonicalQuery,
		canonicalHeaders,
		"",
		signedHeaders,
		bodyHash,
	}, "\n")

	credentialScope := auth.dateStamp + "/" + auth.region + "/s3/aws4_request"
	stringToSign := strings.Join([]string{
		algorithm,
		req.Header.Get("x-amz-date"),
		credentialScope,
		hex.EncodeToString(sha256Sum(canonicalRequest)),
	}, "\n")

	s := &Signer{AccessKey: auth.accessKey, SecretKey: secretKey, Region: auth.region}
	signingKey := s.signingKey(auth.dateStamp)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(auth.signature)) != 1 {
		return "", ErrSignatureMismatch
	}
	return auth.accessKey, nil
}
