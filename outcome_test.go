package devrev

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func makeResponse(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header}
}

func TestClassifyOutcomeStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   StatusClass
	}{
		{200, ClassSuccess},
		{201, ClassSuccess},
		{204, ClassSuccess},
		{304, ClassNotModified},
		{400, ClassFatalFailure},
		{401, ClassFatalFailure},
		{404, ClassFatalFailure},
		{429, ClassRateLimited},
		{500, ClassRetryableFailure},
		{502, ClassRetryableFailure},
		{503, ClassRetryableFailure},
		{504, ClassRetryableFailure},
	}
	for _, tc := range cases {
		outcome := classifyOutcome(makeResponse(tc.status, nil), nil)
		if outcome.Class != tc.want {
			t.Errorf("status %d classified as %v, want %v", tc.status, outcome.Class, tc.want)
		}
		if outcome.StatusCode != tc.status {
			t.Errorf("status %d: StatusCode = %d", tc.status, outcome.StatusCode)
		}
	}
}

func TestClassifyOutcomeTransportErrors(t *testing.T) {
	outcome := classifyOutcome(nil, errors.New("connection refused"))
	if outcome.Class != ClassRetryableFailure {
		t.Errorf("transport error classified as %v, want retryable", outcome.Class)
	}
	if outcome.Canceled {
		t.Error("plain transport error must not be flagged as canceled")
	}
}

func TestClassifyOutcomeContextCancellation(t *testing.T) {
	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		outcome := classifyOutcome(nil, err)
		if outcome.Class != ClassFatalFailure {
			t.Errorf("%v classified as %v, want fatal", err, outcome.Class)
		}
		if !outcome.Canceled {
			t.Errorf("%v should be flagged as canceled", err)
		}
	}
}

func TestClassifyOutcomeExtractsRateLimitHint(t *testing.T) {
	header := http.Header{"Retry-After": {"7"}}
	outcome := classifyOutcome(makeResponse(429, header), nil)

	if outcome.Class != ClassRateLimited {
		t.Fatalf("classified as %v, want rate limited", outcome.Class)
	}
	if outcome.Hint == nil {
		t.Fatal("expected hint from Retry-After header")
	}
	if outcome.Hint.RetryAfter != 7*time.Second {
		t.Errorf("hint = %v, want 7s", outcome.Hint.RetryAfter)
	}
}

func TestClassifyOutcome429WithoutHeader(t *testing.T) {
	outcome := classifyOutcome(makeResponse(429, nil), nil)
	if outcome.Class != ClassRateLimited {
		t.Fatalf("classified as %v, want rate limited", outcome.Class)
	}
	if outcome.Hint != nil {
		t.Error("no Retry-After header should mean no hint")
	}
}

func TestStatusClassString(t *testing.T) {
	cases := map[StatusClass]string{
		ClassSuccess:          "success",
		ClassRetryableFailure: "retryable_failure",
		ClassFatalFailure:     "fatal_failure",
		ClassRateLimited:      "rate_limited",
		ClassNotModified:      "not_modified",
		StatusClass(42):       "unknown",
	}
	for class, want := range cases {
		if got := class.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
