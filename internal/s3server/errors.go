package s3server

import (
	"encoding/xml"
	"net/http"

	"github.com/cybou-fr/cybs3/internal/apierr"
)

type xmlError struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource,omitempty"`
}

// writeError renders err as S3's XML error body with the matching HTTP
// status. Non-apierr errors are surfaced as an opaque InternalError so
// a handler bug never leaks an unannotated error string to the wire.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Wrap(apierr.KindUnknown, apierr.CodeInternal, "internal error", err)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.HTTPStatus())
	if r.Method == http.MethodHead {
		return
	}
	_ = xml.NewEncoder(w).Encode(xmlError{
		Code:     string(apiErr.Code),
		Message:  apiErr.Message,
		Resource: apiErr.Resource,
	})
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(v)
}
