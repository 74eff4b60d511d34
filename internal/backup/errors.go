package backup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"unicode/utf8"
)

// Category classifies a failed or skipped backup attempt.
type Category string

const (
	CategoryNone          Category = ""
	CategoryInvalidGrant  Category = "invalid_grant"
	CategoryNotConfigured Category = "not_configured"
	CategoryNetwork       Category = "network"
	CategoryStorage       Category = "storage"
	CategoryLocal         Category = "local"
)

// Kind is the remote adapter's verdict on a failed call.
type Kind int

const (
	KindOther Kind = iota
	KindInvalidGrant
	KindRateLimited
	KindQuotaExceeded
	KindNotFound
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindInvalidGrant:
		return "invalid_grant"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	default:
		return "other"
	}
}

// RemoteError is returned by remote store adapters and the credential refresher.
type RemoteError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// LocalError wraps failures on this host: database reads, dump generation,
// encryption.
type LocalError struct {
	Op  string
	Err error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured marks a missing secret, folder name or provider setting.
var ErrNotConfigured = errors.New("backup not configured")

// IsInvalidGrant reports whether err says the credential is permanently unusable.
func IsInvalidGrant(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindInvalidGrant
}

// Classify maps an attempt error onto a Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	if errors.Is(err, ErrNotConfigured) {
		return CategoryNotConfigured
	}
	var re *RemoteError
	if errors.As(err, &re) {
		switch re.Kind {
		case KindInvalidGrant:
			return CategoryInvalidGrant
		case KindRateLimited, KindQuotaExceeded, KindNotFound:
			return CategoryStorage
		default:
			return CategoryNetwork
		}
	}
	var le *LocalError
	if errors.As(err, &le) {
		return CategoryLocal
	}
	return CategoryNetwork
}

// isTransient reports timeouts, cancellations and network-level failures.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

const maxStatusLen = 100

// StatusMessage renders a failure for display. It never exposes a raw error
// type and truncates long technical messages.
func StatusMessage(err error) string {
	if IsInvalidGrant(err) {
		return "Error: " + translate(err)
	}
	return "Error: " + truncate(translate(err), maxStatusLen)
}

func translate(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		switch re.Kind {
		case KindInvalidGrant:
			return "Token expired or revoked (reconnect required)"
		case KindNotFound:
			return "File or folder not found in remote storage"
		case KindQuotaExceeded:
			return "Remote storage quota exceeded"
		case KindRateLimited:
			return "Remote API request limit exceeded"
		case KindNetwork:
			return "Network error: " + re.Error()
		}
	}
	var le *LocalError
	if errors.As(err, &le) {
		return "Local failure: " + le.Error()
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
