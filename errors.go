package mosapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a MoSAPI client error.
type Kind string

const (
	// KindTransport is a network or TLS failure before any HTTP status
	// was received. Callers may retry at a higher level.
	KindTransport Kind = "transport"
	// KindInvalidCredentials is a 401 from the login endpoint.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindIPNotAllowed is a 403 from the login or logout endpoint.
	KindIPNotAllowed Kind = "ip_not_allowed"
	// KindRateLimited is a 429 from the login endpoint.
	KindRateLimited Kind = "rate_limited"
	// KindUnauthorized is a 401 on a non-login request that persisted
	// through the one-shot re-login.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound is a resource that is genuinely absent, e.g. a METRICA
	// report that was never generated.
	KindNotFound Kind = "not_found"
	// KindBadRequest is a 400 with a parseable MoSAPI error envelope.
	KindBadRequest Kind = "bad_request"
	// KindParse is a response body that does not match the expected schema.
	KindParse Kind = "parse"
	// KindAPI is the catch-all for unexpected statuses and protocol
	// violations.
	KindAPI Kind = "api"
)

// Error represents a failure from the MoSAPI client. StatusCode is zero
// when no HTTP response was received; Code carries the MoSAPI resultCode
// when the server returned an error envelope.
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("mosapi: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("mosapi: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func isKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTransport returns true for network or TLS failures.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// IsInvalidCredentials returns true if login was rejected with a 401.
func IsInvalidCredentials(err error) bool { return isKind(err, KindInvalidCredentials) }

// IsIPNotAllowed returns true if the caller's IP is not on the MoSAPI allow list.
func IsIPNotAllowed(err error) bool { return isKind(err, KindIPNotAllowed) }

// IsRateLimited returns true if login hit the concurrent-session rate limit.
func IsRateLimited(err error) bool { return isKind(err, KindRateLimited) }

// IsUnauthorized returns true if a request stayed unauthorized after re-login.
func IsUnauthorized(err error) bool { return isKind(err, KindUnauthorized) }

// IsNotFound returns true if the requested resource does not exist.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsBadRequest returns true for a 400 carrying a MoSAPI error envelope.
func IsBadRequest(err error) bool { return isKind(err, KindBadRequest) }

// IsParse returns true if a response body failed to decode.
func IsParse(err error) bool { return isKind(err, KindParse) }

// resultCode tolerates both spellings MoSAPI uses on the wire: the error
// envelope carries resultCode as a JSON number in some deployments and as
// a string in others.
type resultCode string

func (r *resultCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = resultCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("resultCode is neither string nor number: %s", data)
	}
	*r = resultCode(n.String())
	return nil
}

// ErrorEnvelope is the JSON body MoSAPI attaches to non-2xx responses.
type ErrorEnvelope struct {
	ResultCode  resultCode `json:"resultCode"`
	Message     string     `json:"message"`
	Description string     `json:"description"`
}

// apiError interprets a non-2xx MoSAPI response. The envelope's resultCode
// selects the message: 2012 is a date-order violation, 2013 and 2014 are
// date-syntax violations, anything else keeps the server's message. The
// error Kind follows the HTTP status.
func apiError(status int, body string) *Error {
	kind := kindForStatus(status)

	var env ErrorEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.ResultCode == "" {
		return &Error{
			Kind:       kind,
			StatusCode: status,
			Message:    fmt.Sprintf("unexpected status code %d: %s", status, body),
		}
	}

	code := string(env.ResultCode)
	var msg string
	switch code {
	case "2012":
		msg = "Date order is invalid: " + env.Message
	case "2013", "2014":
		msg = "Date syntax is invalid: " + env.Message
	default:
		msg = fmt.Sprintf("Bad Request (code: %s): %s", code, env.Message)
	}

	return &Error{Kind: kind, StatusCode: status, Code: code, Message: msg}
}

func kindForStatus(status int) Kind {
	switch status {
	case 400:
		return KindBadRequest
	case 401:
		return KindUnauthorized
	case 404:
		return KindNotFound
	case 429:
		return KindRateLimited
	default:
		return KindAPI
	}
}

func parseErr(what string, cause error) *Error {
	return &Error{
		Kind:    KindParse,
		Message: "failed to decode " + what + ": " + cause.Error(),
		cause:   cause,
	}
}

func transportErr(msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Message: msg, cause: cause}
}
