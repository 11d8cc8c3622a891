package errors

import "testing"

func TestRetryable(t *testing.T) {
	retryable := []Code{CodeConnectionUnavailable, CodeUnavailable, CodeResourceExhausted}
	for _, code := range retryable {
		if !code.Retryable() {
			t.Errorf("expected %s to be retryable", code)
		}
	}

	terminal := []Code{CodeUnknown, CodeStaleResponse, CodeInvalidBinding, CodeNotFound, CodeInvalidTarget, CodeHandlerFault, CodeRenderFailure, CodeInvalidArgument}
	for _, code := range terminal {
		if code.Retryable() {
			t.Errorf("expected %s to be terminal", code)
		}
	}
}

func TestUserVisible(t *testing.T) {
	if CodeStaleResponse.UserVisible() {
		t.Error("expected stale responses to stay internal")
	}
	for _, code := range []Code{CodeUnknown, CodeNotFound, CodeHandlerFault, CodeConnectionUnavailable} {
		if !code.UserVisible() {
			t.Errorf("expected %s to be user visible", code)
		}
	}
}
