package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
)

func TestError_CanBeDetectedWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", &domain.Error{Kind: domain.KindInvalidCredential, Op: "list pipelines", Status: 401})
	if !errors.Is(wrapped, domain.ErrInvalidCredential) {
		t.Error("expected errors.Is to detect ErrInvalidCredential in wrapped error")
	}
	if errors.Is(wrapped, domain.ErrExpiredCredential) {
		t.Error("expected errors.Is not to match a different kind")
	}
}

func TestKindOf_TypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want domain.ErrorKind
	}{
		{&domain.ConfigurationError{Field: "gitlab.url", Reason: "required"}, domain.KindConfiguration},
		{&domain.ValidationError{Entity: "pipeline", Field: "status", Reason: "required"}, domain.KindValidation},
		{fmt.Errorf("build: %w", &domain.DataIntegrityError{Entity: "job", Ref: "pipeline", Missing: "9999"}), domain.KindDataIntegrity},
		{&domain.Error{Kind: domain.KindTimeout}, domain.KindTimeout},
		{errors.New("plain"), domain.KindUnknown},
	}
	for _, c := range cases {
		if got := domain.KindOf(c.err); got != c.want {
			t.Errorf("KindOf(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestErrorKinds_AllNamedAndDescribed(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range domain.ErrorKinds {
		name := k.String()
		if name == "unknown" {
			t.Errorf("kind %d has no name", int(k))
		}
		if seen[name] {
			t.Errorf("duplicate kind name %q", name)
		}
		seen[name] = true

		msg := domain.UserMessage(&domain.Error{Kind: k})
		if msg == "" || strings.HasPrefix(msg, k.String()) {
			t.Errorf("kind %s has no user message, got %q", name, msg)
		}
	}
}

func TestDataIntegrityError_NamesMissingAndKnown(t *testing.T) {
	err := &domain.DataIntegrityError{Entity: "job", EntityID: "1", Ref: "pipeline", Missing: "9999", Known: []string{"10", "11"}}
	msg := err.Error()
	for _, want := range []string{"9999", "10", "11"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestUserMessage_RateLimitedMentionsRetryAfter(t *testing.T) {
	msg := domain.UserMessage(&domain.Error{Kind: domain.KindRateLimited, RetryAfter: 30 * time.Second})
	if !strings.Contains(msg, "30s") {
		t.Errorf("expected retry hint, got %q", msg)
	}
}
