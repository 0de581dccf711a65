// Package apierrors defines the public failure vocabulary returned by the
// chat pipeline. Each kind carries enough structured context for an outer
// layer to produce a client-facing message without string-matching the
// error text. Internal causes (database errors, stack traces, upstream
// bodies) are wrapped via Cause and must never be serialized verbatim to a
// client; only the typed fields on QuotaExceeded/KeysExhausted/RateLimited/
// InvalidRequest/NoNodeAvailable are client-safe.
package apierrors

import (
	"errors"
	"fmt"
)

// QuotaScope identifies which quota window was exceeded.
type QuotaScope string

const (
	ScopeHourly QuotaScope = "hourly"
	ScopeWeekly QuotaScope = "weekly"
	ScopeBoth   QuotaScope = "both"
)

type (
	// QuotaExceeded reports an upstream-enforced quota breach. Hourly scope
	// implies a retry hint around 3600s; any other scope implies ~86400s.
	QuotaExceeded struct {
		Scope             QuotaScope
		Used              int
		Limit             int
		RetryAfterSeconds int
	}

	// KeysExhausted reports that all upstream API keys are in cooldown.
	KeysExhausted struct {
		ResetTime         string
		TotalKeys         int
		KeysInCooldown    int
		RetryAfterSeconds int
		// Message is an already-localized display message, if the caller
		// supplied one; DisplayMessage falls back to a generic string when empty.
		Message string
	}

	// RateLimited reports that the per-principal daily ceiling was hit.
	RateLimited struct {
		Limit             int
		RetryAfterSeconds int
	}

	// InvalidRequest is a validation failure. Its Message is client-visible
	// and safe to surface verbatim.
	InvalidRequest struct {
		Message string
	}

	// NoNodeAvailable reports that no cluster node could serve the request.
	NoNodeAvailable struct{}

	// Aborted reports that the turn was cancelled. It is distinguishable
	// from all other kinds so callers never map it to a generic error event.
	Aborted struct{}

	// Upstream wraps an internal failure. Only a generic message may be
	// surfaced to the client; Cause is for internal logging only.
	Upstream struct {
		Cause error
	}
)

// NewQuotaExceeded fills in the conventional retry hint for scope: 3600
// seconds for hourly quotas, 86400 seconds otherwise.
func NewQuotaExceeded(scope QuotaScope, used, limit int) *QuotaExceeded {
	retry := 86400
	if scope == ScopeHourly {
		retry = 3600
	}
	return &QuotaExceeded{Scope: scope, Used: used, Limit: limit, RetryAfterSeconds: retry}
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded (%s): used %d of %d", e.Scope, e.Used, e.Limit)
}

// DisplayMessage returns a localized message for keys-exhaustion; lang is
// currently unused (single locale) but kept so callers can route through a
// future localization table without changing the call site.
func (e *KeysExhausted) DisplayMessage(lang string) string {
	if e.Message != "" {
		return e.Message
	}
	return "일시적으로 사용 가능한 키가 없습니다"
}

func (e *KeysExhausted) Error() string {
	return fmt.Sprintf("keys exhausted: %d/%d in cooldown, reset at %s", e.KeysInCooldown, e.TotalKeys, e.ResetTime)
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited: limit %d, retry after %ds", e.Limit, e.RetryAfterSeconds)
}

// DisplayMessage returns the client-facing string for a daily ceiling
// breach, with the limit interpolated (spec §8 scenario 4).
func (e *RateLimited) DisplayMessage() string {
	return fmt.Sprintf("일일 채팅 제한 초과 (%d회/일)", e.Limit)
}

func (e *InvalidRequest) Error() string { return e.Message }

func (e *NoNodeAvailable) Error() string { return "사용 가능한 노드가 없습니다" }

func (e *Aborted) Error() string { return "aborted" }

func (e *Upstream) Error() string {
	if e.Cause == nil {
		return "upstream error"
	}
	return e.Cause.Error()
}

func (e *Upstream) Unwrap() error { return e.Cause }

// GenericMessage is the single client-facing string used for any failure
// that is not one of the structured kinds above. Internal detail never
// reaches the client through this path; callers log the real cause via
// telemetry.Logger.Error before returning this.
const GenericMessage = "처리 중 오류가 발생했습니다"

// IsAborted reports whether err is (or wraps) an Aborted failure.
func IsAborted(err error) bool {
	var a *Aborted
	return errors.As(err, &a)
}
