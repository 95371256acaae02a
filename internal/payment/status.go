package payment

import "strings"

// Canonical statuses written by this module.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
	StatusRefunded  = "refunded"
	StatusUnknown   = "unknown"
)

// Class groups status strings by meaning.
type Class string

const (
	ClassSuccess Class = "success"
	ClassPending Class = "pending"
	ClassFailed  Class = "failed"
	ClassOther   Class = "other"
)

var (
	successStatuses = []string{"paid", "successful", "success", "completed", "succeeded"}
	pendingStatuses = []string{"pending", "created", "processing", "unpaid"}
	failedStatuses  = []string{"failed", "cancelled", "canceled", "expired", "rejected"}
)

// SuccessStatuses returns every status that counts as settled.
func SuccessStatuses() []string { return append([]string(nil), successStatuses...) }

// PendingStatuses returns every status that still awaits an outcome.
func PendingStatuses() []string { return append([]string(nil), pendingStatuses...) }

// FailedStatuses returns every status that counts as a terminal failure.
func FailedStatuses() []string { return append([]string(nil), failedStatuses...) }

func normalize(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func in(status string, set []string) bool {
	s := normalize(status)
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// IsSuccess reports whether status means the payable has been paid.
func IsSuccess(status string) bool { return in(status, successStatuses) }

// IsPending reports whether status is still awaiting an outcome.
func IsPending(status string) bool { return in(status, pendingStatuses) }

// IsFailed reports whether status is a terminal failure.
func IsFailed(status string) bool { return in(status, failedStatuses) }

// Classify maps a status string onto its class. Unlisted statuses are ClassOther.
func Classify(status string) Class {
	switch {
	case IsSuccess(status):
		return ClassSuccess
	case IsPending(status):
		return ClassPending
	case IsFailed(status):
		return ClassFailed
	default:
		return ClassOther
	}
}

// StatusMessage returns the payer-facing description of a status.
func StatusMessage(status string) string {
	s := normalize(status)
	switch {
	case IsSuccess(s):
		return "Payment has been successfully received. Thank you!"
	case IsPending(s):
		return "Payment is pending. Waiting for confirmation."
	}
	switch s {
	case "failed", "rejected":
		return "Payment was not successful. Please try again."
	case "cancelled", "canceled":
		return "Payment was cancelled."
	case "expired":
		return "Payment has expired."
	case "refunded":
		return "Payment has been refunded."
	case "":
		return "Status: Unknown"
	}
	return "Status: " + strings.ToUpper(s[:1]) + s[1:]
}

// IsSettled reports whether a callback may no longer change status.
// Refunded payables were paid once and stay closed to verification.
func IsSettled(status string) bool {
	return IsSuccess(status) || normalize(status) == StatusRefunded
}
