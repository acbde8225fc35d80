package appctx

import (
	"context"
	"testing"
)

func TestGetInt(t *testing.T) {
	ctx := Set(context.Background(), ContextKeyFarmerScope, 42)
	v, ok := GetInt(ctx, ContextKeyFarmerScope)
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %d (ok=%v)", v, ok)
	}
	if _, ok := GetString(ctx, ContextKeyFarmerScope); ok {
		t.Fatalf("int value must not read back as string")
	}
	if _, ok := GetInt(context.Background(), ContextKeyUserId); ok {
		t.Fatalf("missing key must report ok=false")
	}
}
