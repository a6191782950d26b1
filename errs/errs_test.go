package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesMetadataAndCause(t *testing.T) {
	err := New(
		"toss",
		CodeProvider,
		WithHTTP(400),
		WithMessage("confirm rejected"),
		WithRawCode("REJECT_CARD_PAYMENT"),
		WithRawMessage("한도초과 혹은 잔액부족으로 결제에 실패했습니다."),
		WithField("order_id", "order-1"),
		WithField("endpoint", "/v1/payments/confirm"),
		WithCause(errors.New("http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=toss") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=provider_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=400") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	expectedMeta := `meta=endpoint="/v1/payments/confirm",order_id="order-1"`
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, `cause="http 400"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithFieldIgnoresBlankKeys(t *testing.T) {
	err := New("relay", CodeUnavailable, WithField("  ", "value"))
	if len(err.Metadata) != 0 {
		t.Fatalf("expected blank keys to be ignored, got %v", err.Metadata)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestIsMatchesWrappedCode(t *testing.T) {
	base := New("lib/async", CodeUnavailable, WithMessage("pool at capacity"))
	wrapped := fmt.Errorf("dispatch ack: %w", base)
	if !Is(wrapped, CodeUnavailable) {
		t.Fatalf("expected wrapped error to match unavailable code")
	}
	if Is(wrapped, CodeConflict) {
		t.Fatalf("expected wrapped error not to match conflict code")
	}
	if Is(errors.New("plain"), CodeUnavailable) {
		t.Fatalf("expected plain error not to match")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("store", CodeInternal, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
}
