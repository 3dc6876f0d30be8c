// Package apperr defines the error taxonomy shared by the remote client, the
// retry strategy and the service facade.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Category buckets an error for retry decisions.
type Category string

const (
	Transient      Category = "TRANSIENT"
	Network        Category = "NETWORK"
	Timeout        Category = "TIMEOUT"
	Throttling     Category = "THROTTLING"
	Authentication Category = "AUTHENTICATION"
	Authorization  Category = "AUTHORIZATION"
	Permanent      Category = "PERMANENT"
	Unknown        Category = "UNKNOWN"
)

// Categories lists every category in classification priority order.
var Categories = []Category{Network, Timeout, Throttling, Authentication, Authorization, Transient, Permanent, Unknown}

// Error is a categorized error raised at a remote boundary.
type Error struct {
	Category   Category
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns a categorized error.
func New(cat Category, op, msg string) *Error {
	return &Error{Category: cat, Op: op, Message: msg}
}

// Wrap attaches a category to cause. A nil cause yields nil.
func Wrap(cat Category, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Category: cat, Op: op, Message: "failed", Cause: cause}
}

// FromHTTPStatus maps a non-2xx response to a categorized error.
func FromHTTPStatus(op string, status int, body string) *Error {
	msg := strings.TrimSpace(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Category: CategoryForStatus(status), Op: op, StatusCode: status, Message: msg}
}

// CategoryForStatus maps an HTTP status code to a category.
func CategoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return Authentication
	case status == http.StatusForbidden:
		return Authorization
	case status == http.StatusTooManyRequests:
		return Throttling
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Unknown
	}
}

// keywords per category, consulted in Categories order.
var keywords = map[Category][]string{
	Network:        {"network", "connection refused", "connection reset", "econnrefused", "econnreset", "enotfound", "no such host", "dns", "socket", "broken pipe", "fetch failed"},
	Timeout:        {"timeout", "timed out", "deadline exceeded", "etimedout"},
	Throttling:     {"rate limit", "too many requests", "throttl", "429", "quota"},
	Authentication: {"unauthorized", "401", "authentication", "invalid api key", "invalid token", "unauthenticated"},
	Authorization:  {"forbidden", "403", "permission denied", "access denied", "not authorized"},
	Transient:      {"unavailable", "503", "502", "500", "temporar", "try again", "overloaded", "internal server error", "bad gateway"},
	Permanent:      {"bad request", "400", "404", "not found", "invalid", "malformed", "unprocessable", "unsupported"},
}

// Classify assigns a category to err. Typed errors win; otherwise context and
// net timeouts; otherwise keyword matching on the lowercased message and type
// name in fixed priority order.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Category != "" {
		return ae.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network
	}
	text := strings.ToLower(err.Error() + " " + fmt.Sprintf("%T", err))
	for _, cat := range Categories {
		for _, kw := range keywords[cat] {
			if matchKeyword(text, kw) {
				return cat
			}
		}
	}
	return Unknown
}

// matchKeyword reports whether kw occurs in text. Numeric keywords are status
// codes and only match as a whole token, so "took 1400ms" is not a 400.
func matchKeyword(text, kw string) bool {
	if !isDigits(kw) {
		return strings.Contains(text, kw)
	}
	for from := 0; ; {
		i := strings.Index(text[from:], kw)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(kw)
		if (start == 0 || !isAlnum(text[start-1])) && (end == len(text) || !isAlnum(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Retryable reports whether the default policy retries cat.
func Retryable(cat Category) bool {
	switch cat {
	case Permanent, Authentication, Authorization:
		return false
	default:
		return true
	}
}
