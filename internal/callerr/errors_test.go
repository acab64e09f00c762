package callerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransientExternal, "call engine", cause)

	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve Unwrap chain")
	}
	if got := err.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}

func TestClassifyOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(KindInvalidInput, "bad srcList")
	wrapped := fmt.Errorf("shaping call: %w", base)

	kind, ok := ClassifyOf(wrapped)
	if !ok || kind != KindInvalidInput {
		t.Errorf("ClassifyOf(wrapped) = (%v, %v), want (KindInvalidInput, true)", kind, ok)
	}
}

func TestClassifyOfUnclassifiedError(t *testing.T) {
	_, ok := ClassifyOf(errors.New("plain error"))
	if ok {
		t.Error("plain error should not classify")
	}
}

func TestShouldAck(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid input acks", New(KindInvalidInput, "x"), true},
		{"transcript invalid acks", New(KindTranscriptInvalid, "x"), true},
		{"transcript too short acks", New(KindTranscriptTooShort, "x"), true},
		{"transient external nacks", New(KindTransientExternal, "x"), false},
		{"configuration fatal nacks (worker exits instead)", New(KindConfigurationFatal, "x"), false},
		{"unclassified error nacks", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldAck(tc.err); got != tc.want {
				t.Errorf("ShouldAck(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(New(KindConfigurationFatal, "x")) {
		t.Error("configuration fatal should be fatal")
	}
	if !IsFatal(New(KindWorkerHealthFatal, "x")) {
		t.Error("worker health fatal should be fatal")
	}
	if IsFatal(New(KindTransientExternal, "x")) {
		t.Error("transient external should not be fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("unclassified error should not be fatal")
	}
}
