package core

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Classify converts one probe outcome into a ResultKind. It is total over its
// input domain and evaluates in a fixed precedence order:
//
//  1. transport error (timeout, TLS, connection, unknown)
//  2. HTTP 401
//  3. HTTP 5xx
//  4. status mismatch against the expectation
//  5. latency threshold breach
//  6. success
//
// A latency breach can therefore only be reported for responses that matched
// the expected status, and a 401 always wins over a plain mismatch.
func Classify(expectedStatus, actualStatus int, latencyMs int64, maxLatencyMs *int, transportErr error) ResultKind {
	if transportErr != nil {
		return classifyTransportError(transportErr)
	}

	if actualStatus == 401 {
		return ResultAuthFailure
	}
	if actualStatus >= 500 {
		return ResultServerError
	}
	if actualStatus != expectedStatus {
		return ResultStatusMismatch
	}
	if maxLatencyMs != nil && latencyMs > int64(*maxLatencyMs) {
		return ResultLatencyBreach
	}
	return ResultSuccess
}

// classifyTransportError discriminates transport failures structurally where
// the error chain allows it, and falls back to matching error text for
// transports that only surface strings.
func classifyTransportError(err error) ResultKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ResultTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ResultTimeout
	}

	var certVerify *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	var recordHeader tls.RecordHeaderError
	if errors.As(err, &certVerify) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) || errors.As(err, &certInvalid) ||
		errors.As(err, &recordHeader) {
		return ResultSSLError
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ResultConnectionError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ResultConnectionError
	}

	// Fallback: string matching, same taxonomy as structured discrimination.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ResultTimeout
	case strings.Contains(msg, "ssl"), strings.Contains(msg, "certificate"):
		return ResultSSLError
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"):
		return ResultConnectionError
	default:
		return ResultUnknownError
	}
}
