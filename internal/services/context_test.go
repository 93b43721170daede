package services_test

import (
	"context"
	"testing"

	"tubemux/internal/services"
)

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "0b7c9d4e-1111-2222-3333-444455556666")
	ctx = services.WithStage(ctx, "fetching")
	ctx = services.WithRequestID(ctx, "req-123")

	checks := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"job id", services.JobIDFromContext, "0b7c9d4e-1111-2222-3333-444455556666"},
		{"stage", services.StageFromContext, "fetching"},
		{"request id", services.RequestIDFromContext, "req-123"},
	}
	for _, check := range checks {
		if got, ok := check.get(ctx); !ok || got != check.want {
			t.Fatalf("%s: got %q (%v), want %q", check.name, got, ok, check.want)
		}
	}
}

func TestContextHelpersIgnoreBlankValues(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	ctx = services.WithJobID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id value")
	}
}

func TestStageOverridesParentValue(t *testing.T) {
	ctx := services.WithStage(context.Background(), "fetching")
	ctx = services.WithStage(ctx, "muxing")
	if stage, _ := services.StageFromContext(ctx); stage != "muxing" {
		t.Fatalf("expected innermost stage, got %q", stage)
	}
}
