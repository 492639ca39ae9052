package proc

import (
	"errors"
	"testing"
)

func TestIsNetworkError(t *testing.T) {
	network := []error{
		errors.New("connection reset by peer"),
		errors.New("dial tcp: i/o timeout"),
		errors.New("unexpected EOF"),
		errors.New("Temporary failure in name resolution"),
	}
	for _, err := range network {
		if !IsNetworkError(err) {
			t.Errorf("expected %v to classify as network error", err)
		}
	}

	if IsNetworkError(nil) {
		t.Error("nil is not a network error")
	}
	if IsNetworkError(errors.New("video unavailable")) {
		t.Error("extraction rejection is not a network error")
	}
}
