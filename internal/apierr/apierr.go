// Package apierr defines the cybs3 error taxonomy: a closed set of
// error kinds shared by the client, the server, and the CLI, each
// carrying enough information to pick an HTTP status, an S3 error
// code, and a process exit code without a cascading type switch.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the families the rest of the
// system branches on (HTTP status, exit code, retry eligibility).
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindResource
	KindConfiguration
	KindCrypto
	KindTransport
	KindProtocol
	KindUser
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindResource:
		return "resource"
	case KindConfiguration:
		return "configuration"
	case KindCrypto:
		return "crypto"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindUser:
		return "user"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Code is a stable machine-readable error code, matching the S3 error
// codes recognized by the client where applicable.
type Code string

const (
	CodeInvalidCredentials     Code = "InvalidCredentials"
	CodeAccessDenied           Code = "AccessDenied"
	CodeNoSuchBucket           Code = "NoSuchBucket"
	CodeNoSuchKey              Code = "NoSuchKey"
	CodeBucketNotEmpty         Code = "BucketNotEmpty"
	CodeInvalidAccessKeyID     Code = "InvalidAccessKeyId"
	CodeSignatureDoesNotMatch  Code = "SignatureDoesNotMatch"
	CodeVaultNotFound          Code = "VaultNotFound"
	CodeVaultAlreadyExists     Code = "VaultAlreadyExists"
	CodeConfigurationNotFound  Code = "ConfigurationNotFound"
	CodeConfigurationCorrupted Code = "ConfigurationCorrupted"
	CodeUnsupportedVersion     Code = "UnsupportedVersion"
	CodeDecryptionFailed       Code = "DecryptionFailed"
	CodeEncryptionFailed       Code = "EncryptionFailed"
	CodeKeyDerivationFailed    Code = "KeyDerivationFailed"
	CodeInvalidCiphertext      Code = "InvalidCiphertext"
	CodeCircuitOpen            Code = "CircuitOpen"
	CodeInvalidResponse        Code = "InvalidResponse"
	CodeUserCancelled          Code = "UserCancelled"
	CodeInvalidInput           Code = "InvalidInput"
	CodeOperationAborted       Code = "OperationAborted"
	CodeInternal               Code = "InternalError"
	CodeIOError                Code = "IOError"
	// Key-management codes.
	CodeNotFound          Code = "NotFound"
	CodeInvalidKeyUsage   Code = "InvalidKeyUsage"
	CodeKeyUnavailable    Code = "KeyUnavailable"
	CodeThrottling        Code = "Throttling"
	CodeInvalidGrantToken Code = "InvalidGrantToken"
	CodeInvalidKeyID      Code = "InvalidKeyId"
)

// Error is the concrete error type carried through the system.
type Error struct {
	Kind     Kind
	Code     Code
	Resource string // optional: bucket, "bucket/key", or key id
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind/code.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error of the given kind/code around a cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithResource attaches a resource (bucket, bucket/key, key id) to the error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// As reports whether err is (or wraps) an *Error, following errors.As semantics.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// httpStatus maps a Code directly to an HTTP status, so call sites
// never need a cascading kind/code switch.
var httpStatus = map[Code]int{
	CodeInvalidCredentials:     http.StatusForbidden,
	CodeAccessDenied:           http.StatusForbidden,
	CodeNoSuchBucket:           http.StatusNotFound,
	CodeNoSuchKey:              http.StatusNotFound,
	CodeBucketNotEmpty:         http.StatusConflict,
	CodeInvalidAccessKeyID:     http.StatusForbidden,
	CodeSignatureDoesNotMatch:  http.StatusForbidden,
	CodeVaultNotFound:          http.StatusNotFound,
	CodeVaultAlreadyExists:     http.StatusConflict,
	CodeConfigurationNotFound:  http.StatusInternalServerError,
	CodeConfigurationCorrupted: http.StatusInternalServerError,
	CodeUnsupportedVersion:     http.StatusInternalServerError,
	CodeDecryptionFailed:       http.StatusInternalServerError,
	CodeEncryptionFailed:       http.StatusInternalServerError,
	CodeKeyDerivationFailed:    http.StatusInternalServerError,
	CodeInvalidCiphertext:      http.StatusBadRequest,
	CodeCircuitOpen:            http.StatusServiceUnavailable,
	CodeInvalidResponse:        http.StatusBadGateway,
	CodeUserCancelled:          http.StatusBadRequest,
	CodeInvalidInput:           http.StatusBadRequest,
	CodeOperationAborted:       http.StatusBadRequest,
	CodeInternal:               http.StatusInternalServerError,
	CodeNotFound:               http.StatusNotFound,
	CodeInvalidKeyUsage:        http.StatusBadRequest,
	CodeKeyUnavailable:         http.StatusConflict,
	CodeThrottling:             http.StatusTooManyRequests,
	CodeInvalidGrantToken:      http.StatusBadRequest,
	CodeInvalidKeyID:           http.StatusBadRequest,
	CodeIOError:                http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status for e's code, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// exitCode is the CLI exit-code lookup table.
var exitCode = map[Kind]int{
	KindConfiguration: 100,
	KindAuthentication: 101,
	KindCrypto:         106,
	KindUser:           107,
}

// ExitCode returns the process exit code for e. Resource-, transport-
// and protocol-kind errors use 104; other kinds consult exitCode, falling
// back to a generic failure code.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindResource, KindTransport:
		return 104
	case KindProtocol:
		return 104
	default:
		if code, ok := exitCode[e.Kind]; ok {
			return code
		}
		return 1
	}
}

// Retryable reports whether an error kind is, on its own, worth
// retrying. Crypto and protocol errors are never retryable: a retry
// cannot recover a bad key or corrupt bytes.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}
