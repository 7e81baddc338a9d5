package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func intPtr(v int) *int { return &v }

func TestClassifyTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ResultKind
	}{
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: ResultTimeout,
		},
		{
			name: "wrapped deadline",
			err:  fmt.Errorf("request failed: %w", context.DeadlineExceeded),
			want: ResultTimeout,
		},
		{
			name: "net.Error timeout",
			err:  timeoutErr{},
			want: ResultTimeout,
		},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			want: ResultConnectionError,
		},
		{
			name: "connection reset",
			err:  &net.OpError{Op: "read", Err: syscall.ECONNRESET},
			want: ResultConnectionError,
		},
		{
			name: "dns failure",
			err:  &net.DNSError{Err: "no such host", Name: "api.example.com"},
			want: ResultConnectionError,
		},
		{
			name: "string fallback timeout",
			err:  errors.New("operation timeout while waiting"),
			want: ResultTimeout,
		},
		{
			name: "string fallback ssl",
			err:  errors.New("remote error: ssl handshake failure"),
			want: ResultSSLError,
		},
		{
			name: "string fallback certificate",
			err:  errors.New("x509: certificate has expired"),
			want: ResultSSLError,
		},
		{
			name: "string fallback connection",
			err:  errors.New("connection closed unexpectedly"),
			want: ResultConnectionError,
		},
		{
			name: "string fallback refused",
			err:  errors.New("dial tcp: refused"),
			want: ResultConnectionError,
		},
		{
			name: "unclassifiable",
			err:  errors.New("something very strange"),
			want: ResultUnknownError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(200, 0, 0, nil, tt.err)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyStatusRules(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		latencyMs  int64
		maxLatency *int
		want       ResultKind
	}{
		{name: "exact match", expected: 200, actual: 200, want: ResultSuccess},
		{name: "expected 201", expected: 201, actual: 201, want: ResultSuccess},
		{name: "401 wins over mismatch", expected: 200, actual: 401, latencyMs: 50, maxLatency: intPtr(100), want: ResultAuthFailure},
		{name: "401 even when expected", expected: 401, actual: 401, want: ResultAuthFailure},
		{name: "500 server error", expected: 200, actual: 500, want: ResultServerError},
		{name: "503 server error", expected: 200, actual: 503, want: ResultServerError},
		{name: "5xx wins over mismatch", expected: 502, actual: 503, want: ResultServerError},
		{name: "plain mismatch", expected: 200, actual: 404, want: ResultStatusMismatch},
		{name: "redirect mismatch", expected: 200, actual: 301, want: ResultStatusMismatch},
		{name: "latency breach over success", expected: 200, actual: 200, latencyMs: 500, maxLatency: intPtr(400), want: ResultLatencyBreach},
		{name: "latency at threshold is success", expected: 200, actual: 200, latencyMs: 400, maxLatency: intPtr(400), want: ResultSuccess},
		{name: "no latency threshold", expected: 200, actual: 200, latencyMs: 99999, want: ResultSuccess},
		{name: "mismatch wins over latency", expected: 200, actual: 204, latencyMs: 500, maxLatency: intPtr(100), want: ResultStatusMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.expected, tt.actual, tt.latencyMs, tt.maxLatency, nil)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
