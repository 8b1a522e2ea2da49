package coordinator

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datanger/gemini-cli/pkg/models"
)

// FailureClass categorizes an invocation failure by its error text.
type FailureClass string

const (
	// FailureNetwork covers transient network and timeout errors.
	FailureNetwork FailureClass = "network"
	// FailureUnavailable covers structurally missing or broken tools.
	FailureUnavailable FailureClass = "unavailable"
	// FailureParameter covers caller errors in the supplied arguments.
	FailureParameter FailureClass = "parameter"
	// FailureUnknown covers everything else.
	FailureUnknown FailureClass = "unknown"
)

// maxRetryDelay caps exponential backoff.
const maxRetryDelay = 10 * time.Second

// retryBudget returns the per-class retry allowance.
func (c FailureClass) retryBudget() int {
	switch c {
	case FailureNetwork:
		return 3
	case FailureUnavailable:
		return 2
	case FailureParameter:
		return 0
	default:
		return 1
	}
}

// FallbackSource resolves a substitute tool for a failed primary tool.
// The tool registry implements this for the small fixed set of primary
// tools that declare a fallback at registration time.
type FallbackSource interface {
	// FallbackFor returns the substitute tool name for the given primary
	// tool, or false if none is registered.
	FallbackFor(tool string) (string, bool)
}

// ErrorHandler classifies invocation failures and computes retry and
// fallback policy. It holds no per-invocation state; all counters live
// on the invocation itself.
type ErrorHandler struct {
	fallbacks FallbackSource
}

// NewErrorHandler creates an ErrorHandler. fallbacks may be nil, in
// which case GenerateFallback never produces a substitute.
func NewErrorHandler(fallbacks FallbackSource) *ErrorHandler {
	return &ErrorHandler{fallbacks: fallbacks}
}

// Classify buckets a failure message into a FailureClass by content.
func (h *ErrorHandler) Classify(errMsg string) FailureClass {
	msg := strings.ToLower(errMsg)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return FailureNetwork
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "no such tool") || strings.Contains(msg, "unknown tool"):
		return FailureUnavailable
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "parameter") ||
		strings.Contains(msg, "argument") || strings.Contains(msg, "malformed"):
		return FailureParameter
	default:
		return FailureUnknown
	}
}

// ShouldRetry decides whether a failed invocation may re-enter
// execution. The invocation's own retry limit is a hard stop; below it,
// the failure class's budget applies. Parameter errors never retry.
func (h *ErrorHandler) ShouldRetry(inv *models.Invocation, errMsg string) bool {
	if inv.RetryCount >= inv.MaxRetries {
		return false
	}
	return inv.RetryCount < h.Classify(errMsg).retryBudget()
}

// CalculateRetryDelay returns base * 2^attempt, capped at 10 seconds.
func (h *ErrorHandler) CalculateRetryDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// GenerateFallback builds a substitute invocation for a primary tool
// that exhausted its retries. The fallback runs at lower priority with a
// single-retry budget and carries the original arguments; its metadata
// records the substitution. Returns nil when no substitute is
// registered for the tool.
func (h *ErrorHandler) GenerateFallback(inv *models.Invocation) *models.Invocation {
	if h.fallbacks == nil {
		return nil
	}
	alt, ok := h.fallbacks.FallbackFor(inv.Tool)
	if !ok {
		return nil
	}

	args := make(map[string]any, len(inv.Args))
	for k, v := range inv.Args {
		args[k] = v
	}
	meta := make(map[string]string, len(inv.Metadata)+2)
	for k, v := range inv.Metadata {
		meta[k] = v
	}
	meta["fallback"] = "true"
	meta["fallback_for"] = inv.ID

	return &models.Invocation{
		ID:         uuid.New().String()[:8],
		SessionID:  inv.SessionID,
		Tool:       alt,
		Args:       args,
		Status:     models.InvocationStatusPending,
		Priority:   inv.Priority - 10,
		DependsOn:  append([]string(nil), inv.DependsOn...),
		MaxRetries: 1,
		Timeout:    inv.Timeout,
		CreatedAt:  time.Now(),
		Metadata:   meta,
	}
}
