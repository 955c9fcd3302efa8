package lpse

import (
	"errors"
	"fmt"
)

// ErrorKind tells apart the ways a fetch can fail.
type ErrorKind int

const (
	// TokenElementNotFound means the listing page had no script carrying the token,
	// usually because an anti-bot challenge page was served instead.
	TokenElementNotFound ErrorKind = iota + 1
	// TokenPatternMismatch means the script was found but the token could not be extracted from it.
	TokenPatternMismatch
	// TransportError covers network failures and non-2xx responses on either call.
	TransportError
	// UpstreamFormatError means the data endpoint did not return the expected json.
	UpstreamFormatError
)

func (k ErrorKind) String() string {
	switch k {
	case TokenElementNotFound:
		return "TokenElementNotFound"
	case TokenPatternMismatch:
		return "TokenPatternMismatch"
	case TransportError:
		return "TransportError"
	case UpstreamFormatError:
		return "UpstreamFormatError"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// FetchError is the only error type Fetcher.Fetch returns.
type FetchError struct {
	Kind ErrorKind
	// Step is the upstream call the error happened in, "listing" or "data".
	Step string
	// StatusCode is set when the upstream answered with a non-2xx status.
	StatusCode int
	// BodyPrefix holds the start of the offending response body for diagnostics.
	BodyPrefix string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case TokenElementNotFound:
		return fmt.Sprintf(
			"lpse: could not find the authenticityToken script element, the upstream most likely served a challenge page instead. received html: %s",
			e.BodyPrefix,
		)
	case TokenPatternMismatch:
		return "lpse: could not extract the token from the script even though the element was found"
	case TransportError:
		if e.StatusCode != 0 {
			return fmt.Sprintf("lpse: %s request: unexpected status %d", e.Step, e.StatusCode)
		}
		return fmt.Sprintf("lpse: %s request: %v", e.Step, e.Err)
	case UpstreamFormatError:
		return fmt.Sprintf("lpse: %s response: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("lpse: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}
	return fetchErr.Kind == kind
}
