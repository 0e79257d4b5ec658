package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Remote error codes with registered default handlers.
const (
	CodeSessionExpired  = 5
	CodeTooManyRequests = 6
	CodeFlood           = 9
	CodeServerFault     = 10
	CodeCaptcha         = 14
	CodeIdentityCheck   = 17
)

// Sentinel errors for the session-expired sub-cases. Callers distinguish a
// recoverable token refresh from a dead account with errors.Is.
var (
	ErrSessionExpired     = errors.New("api: session expired")
	ErrAccountDeactivated = errors.New("api: account deactivated")
	ErrAccountBlocked     = errors.New("api: account blocked")
	ErrIdentityCheck      = errors.New("api: identity re-verification required")
	ErrCaptcha            = errors.New("api: captcha required")
	ErrClosed             = errors.New("api: client closed")
)

// Error is a structured remote error.
type Error struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`

	// Code 14, captcha challenge.
	CaptchaSID string `json:"captcha_sid,omitempty"`
	CaptchaImg string `json:"captcha_img,omitempty"`

	// Code 17, identity re-verification.
	RedirectURI string `json:"redirect_uri,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: error %d: %s", e.Code, e.Message)
}

// Resolution is an error handler's verdict: retry the same queued call
// after an optional delay (the queue does not advance), or dequeue it and
// surface Err to the caller.
type Resolution struct {
	Retry bool
	Delay time.Duration
	Err   error
}

// ErrorHandler resolves one remote error code. Handlers may mutate the
// request parameters before a retry (the captcha flow injects the solved
// challenge this way).
type ErrorHandler func(req *Request, apiErr *Error) Resolution

func defaultHandlers() map[int]ErrorHandler {
	return map[int]ErrorHandler{
		// Rate limit and flood control: retry the same call shortly;
		// the single-flight queue stays blocked meanwhile.
		CodeTooManyRequests: func(*Request, *Error) Resolution {
			return Resolution{Retry: true, Delay: time.Second}
		},
		CodeFlood: func(*Request, *Error) Resolution {
			return Resolution{Retry: true, Delay: time.Second}
		},
		CodeServerFault: func(*Request, *Error) Resolution {
			return Resolution{Retry: true, Delay: time.Second}
		},
		// No solver by default. An application that can present the
		// challenge replaces this via OnError, injects captcha_sid and
		// captcha_key into the request and retries.
		CodeCaptcha: func(_ *Request, apiErr *Error) Resolution {
			return Resolution{Err: fmt.Errorf("%w: sid %s", ErrCaptcha, apiErr.CaptchaSID)}
		},
		CodeSessionExpired: func(_ *Request, apiErr *Error) Resolution {
			return Resolution{Err: classifyExpired(apiErr)}
		},
		CodeIdentityCheck: func(_ *Request, apiErr *Error) Resolution {
			return Resolution{Err: fmt.Errorf("%w: %s", ErrIdentityCheck, apiErr.RedirectURI)}
		},
	}
}

// classifyExpired maps the session-expired message variants onto sentinel
// errors. Unknown variants surface the raw error.
func classifyExpired(apiErr *Error) error {
	msg := apiErr.Message
	switch {
	case strings.Contains(msg, "user revoke access"),
		strings.Contains(msg, "invalid session"):
		return ErrSessionExpired
	case strings.Contains(msg, "user is deactivated"):
		return ErrAccountDeactivated
	case strings.Contains(msg, "invalid access_token (2)"):
		return ErrAccountBlocked
	default:
		return apiErr
	}
}
