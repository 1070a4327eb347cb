// Package httputils contains common HTTP server helpers.
package httputils

import (
	"io"
	"net/http"
	"strconv"

	"go.skia.org/cif/go/metrics2"
	"go.skia.org/cif/go/sklog"
)

// ReportError formats an HTTP error response and also logs the detailed
// error message. The message parameter is returned in the HTTP response. If
// it is not provided then "Unknown error" will be returned instead.
func ReportError(w http.ResponseWriter, err error, message string, code int) {
	sklog.Error(message, err)
	if err != io.ErrClosedPipe {
		httpErrMsg := message
		if message == "" {
			httpErrMsg = "Unknown error"
		}
		http.Error(w, httpErrMsg, code)
	}
}

// responseProxy implements http.ResponseWriter and records the status codes.
type responseProxy struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rp *responseProxy) WriteHeader(code int) {
	if !rp.wroteHeader {
		metrics2.GetCounter("http_response", map[string]string{"statuscode": strconv.Itoa(code)}).Inc(1)
		rp.ResponseWriter.WriteHeader(code)
		rp.wroteHeader = true
	}
}

// RecordResponse returns a wrapped http.Handler that counts the status codes
// of the responses.
//
// Note that if a handler doesn't explicitly set a response code and goes
// with the default of 200 then this will never record anything.
func RecordResponse(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(&responseProxy{ResponseWriter: w}, r)
	})
}

// LoggingRequestResponse records parts of the request and the response to
// the logs and counts response codes.
func LoggingRequestResponse(h http.Handler) http.Handler {
	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sklog.Infof("Request: %s %s", r.Method, r.RequestURI)
		h.ServeHTTP(w, r)
	})
	return RecordResponse(logged)
}
