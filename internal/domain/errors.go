package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidClient   = errors.New("client id is required")
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrNotFound is returned by stores on a cache miss.
	ErrNotFound = errors.New("not found")

	// ErrEmptyResult is returned by a platform client when the account has
	// no campaign data for the range. It is not a failure.
	ErrEmptyResult = errors.New("empty result")
)

// InvalidRangeError reports a malformed or inverted date range.
type InvalidRangeError struct {
	Start  string
	End    string
	Reason string
}

func (e *InvalidRangeError) Error() string {
	if e.End == "" {
		return fmt.Sprintf("invalid date range %q: %s", e.Start, e.Reason)
	}
	return fmt.Sprintf("invalid date range %s..%s: %s", e.Start, e.End, e.Reason)
}

// CredentialError means the platform rejected the client's credentials.
// It is not retried until the client's credentials change.
type CredentialError struct {
	Platform Platform
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s credentials rejected: %v", e.Platform, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransientFetchError covers network failures, throttling and timeouts.
// It is safe to retry on a later call.
type TransientFetchError struct {
	Platform Platform
	Timeout  bool
	Err      error
}

func (e *TransientFetchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s fetch timed out: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s fetch failed: %v", e.Platform, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// BothPlatformsFailedError is returned when no requested platform produced data.
type BothPlatformsFailedError struct {
	Errors map[Platform]error
}

func (e *BothPlatformsFailedError) Error() string {
	platforms := make([]string, 0, len(e.Errors))
	for p := range e.Errors {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)

	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Errors[Platform(p)]))
	}
	return "all platform fetches failed (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes every platform error to errors.Is and errors.As.
func (e *BothPlatformsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}

// CacheWriteError reports a failed cache write. The data it was writing is
// still valid and is still returned to the caller.
type CacheWriteError struct {
	Tier SourceTier
	Key  MetricsKey
	Err  error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("%s cache write for %s failed: %v", e.Tier, e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err was caused by bad caller input.
func IsInvalidInput(err error) bool {
	var rangeErr *InvalidRangeError
	return errors.As(err, &rangeErr) || errors.Is(err, ErrInvalidClient) || errors.Is(err, ErrUnknownPlatform)
}

// ToPlatformError converts a fetch error into its serializable form.
func ToPlatformError(err error) *PlatformError {
	if err == nil {
		return nil
	}

	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return &PlatformError{Kind: ErrorKindCredential, Message: err.Error()}
	}

	var transientErr *TransientFetchError
	if errors.As(err, &transientErr) && transientErr.Timeout {
		return &PlatformError{Kind: ErrorKindTimeout, Message: err.Error()}
	}

	return &PlatformError{Kind: ErrorKindTransient, Message: err.Error()}
}
