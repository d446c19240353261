package provider

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// classify maps an SDK or transport error onto an ErrorType by inspecting
// status codes and well-known message fragments. Providers return errors in
// different shapes; string matching is the lowest common denominator that
// works across all of them.
func classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorTypeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "overloaded"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "permission"):
		return ErrorTypeAuth
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "internal server"):
		return ErrorTypeTransient
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "context length"),
		strings.Contains(msg, "too long"),
		strings.Contains(msg, "content policy"):
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}
