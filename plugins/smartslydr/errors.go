package smartslydr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed cloud call.
type Kind int

const (
	KindCommunication Kind = iota
	KindAuthentication
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindParse:
		return "parse"
	default:
		return "communication"
	}
}

var (
	ErrCommunication  = errors.New("smartslydr: communication error")
	ErrAuthentication = errors.New("smartslydr: authentication error")
	ErrParse          = errors.New("smartslydr: unexpected response")

	// ErrAuthFailed and ErrUpdateFailed are the coordinator's lifecycle signals.
	// A host should prompt for new credentials only on ErrAuthFailed.
	ErrAuthFailed   = errors.New("smartslydr: poll failed, credentials rejected")
	ErrUpdateFailed = errors.New("smartslydr: poll failed")

	ErrCommandFailed   = errors.New("smartslydr: command not accepted")
	ErrInvalidPosition = errors.New("smartslydr: position must be 0-100")
	ErrUnknownDevice   = errors.New("smartslydr: unknown device")
)

// Error is returned by Client operations that carry a failure reason.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("smartslydr %s: %s error (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("smartslydr %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCommunication:
		return e.Kind == KindCommunication
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrParse:
		return e.Kind == KindParse
	}
	return false
}

// HTTPStatusError records a non-2xx response.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("smartslydr api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// statusKind classifies a non-2xx reply. 401 and 403 are credential
// rejections anywhere; on the auth endpoint any other 4xx is too, except
// timeouts and throttling.
func statusKind(op string, status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case op == "auth" && status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		return KindAuthentication
	default:
		return KindCommunication
	}
}

// IsAuthError reports whether err was caused by rejected credentials.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrAuthFailed)
}
