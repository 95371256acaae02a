package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"paid":       ClassSuccess,
		"successful": ClassSuccess,
		"SUCCESS":    ClassSuccess,
		"completed":  ClassSuccess,
		"pending":    ClassPending,
		"created":    ClassPending,
		"processing": ClassPending,
		"failed":     ClassFailed,
		"cancelled":  ClassFailed,
		"expired":    ClassFailed,
		"refunded":   ClassOther,
		"on_hold":    ClassOther,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), status)
	}
}

func TestIsSettled(t *testing.T) {
	assert.True(t, IsSettled("paid"))
	assert.True(t, IsSettled("refunded"))
	assert.True(t, IsSettled("Successful"))
	assert.False(t, IsSettled("failed"))
	assert.False(t, IsSettled("pending"))
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Payment has been successfully received. Thank you!", StatusMessage("paid"))
	assert.Equal(t, "Payment is pending. Waiting for confirmation.", StatusMessage("pending"))
	assert.Equal(t, "Payment was not successful. Please try again.", StatusMessage("failed"))
	assert.Equal(t, "Payment was cancelled.", StatusMessage("cancelled"))
	assert.Equal(t, "Payment has expired.", StatusMessage("expired"))
	assert.Equal(t, "Payment has been refunded.", StatusMessage("refunded"))
	assert.Equal(t, "Status: On_hold", StatusMessage("on_hold"))
}

func TestGuardAllows(t *testing.T) {
	assert.True(t, GuardOpen.Allows("pending"))
	assert.True(t, GuardOpen.Allows("failed"))
	assert.False(t, GuardOpen.Allows("paid"))
	assert.False(t, GuardOpen.Allows("refunded"))

	assert.True(t, GuardSucceeded.Allows("paid"))
	assert.False(t, GuardSucceeded.Allows("pending"))

	assert.True(t, GuardPending.Allows("pending"))
	assert.True(t, GuardPending.Allows("created"))
	assert.False(t, GuardPending.Allows("failed"))
}
