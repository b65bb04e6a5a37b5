package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is any non-2xx REST response. The body is kept verbatim so the
// caller can surface server-provided detail.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

// IsAuthError reports authorization denial (403-equivalent). Never retried;
// the active flow terminates and, when it concerns the session token, the
// credentials are cleared.
func IsAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Status == http.StatusForbidden || se.Status == http.StatusUnauthorized)
}

// IsServerError reports a 5xx response, retryable with backoff.
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 500
}

// IsTLSError distinguishes "insecure connection" from "offline". Security
// relevant: these propagate immediately instead of entering the retry loop.
// Classification is by error type with a string fallback for wrapped
// transport errors.
func IsTLSError(err error) bool {
	if err == nil {
		return false
	}
	var (
		record   tls.RecordHeaderError
		verify   *tls.CertificateVerificationError
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
		invalid  x509.CertificateInvalidError
	)
	if errors.As(err, &record) || errors.As(err, &verify) ||
		errors.As(err, &unknown) || errors.As(err, &hostname) || errors.As(err, &invalid) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:")
}

// IsTransient reports errors worth retrying: plain transport failures and
// server errors, but never TLS failures, auth denials or other 4xx.
func IsTransient(err error) bool {
	if err == nil || IsTLSError(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}
