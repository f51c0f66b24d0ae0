package app_test

import (
	"context"
	"testing"

	"mathquest-live-service/internal/app"
)

type setChecker struct {
	taken map[string]bool
	calls int
}

func (c *setChecker) AccessCodeExists(_ context.Context, accessCode string) (bool, error) {
	c.calls++
	return c.taken[accessCode], nil
}

func TestGenerateAccessCode(t *testing.T) {
	checker := &setChecker{}
	code, err := app.GenerateAccessCode(context.Background(), checker)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q is not six digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}
	if checker.calls != 1 {
		t.Fatalf("expected one collision check, got %d", checker.calls)
	}
}

func TestGenerateAccessCodeRetriesOnCollision(t *testing.T) {
	// Every code is taken, so generation must exhaust its retries and fail
	// rather than hand out a duplicate.
	if _, err := app.GenerateAccessCode(context.Background(), allTakenChecker{}); err == nil {
		t.Fatalf("expected failure when every code collides")
	}
}

type allTakenChecker struct{}

func (allTakenChecker) AccessCodeExists(context.Context, string) (bool, error) {
	return true, nil
}
