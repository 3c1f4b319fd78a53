package middleware

import (
	"context"
	"testing"
)

func TestCallContext(t *testing.T) {
	t.Run("NewCallContext", func(t *testing.T) {
		cc := NewCallContext("tools/call", "list_shoes")
		if cc.RequestID == "" {
			t.Error("RequestID should be set")
		}
		if cc.StartTime.IsZero() {
			t.Error("StartTime should not be zero")
		}
		if cc.Method != "tools/call" || cc.Name != "list_shoes" {
			t.Errorf("Method/Name = %q/%q", cc.Method, cc.Name)
		}
	})

	t.Run("unique request ids", func(t *testing.T) {
		a := NewCallContext("tools/call", "x")
		b := NewCallContext("tools/call", "x")
		if a.RequestID == b.RequestID {
			t.Error("request ids should differ")
		}
	})

	t.Run("WithCallContext and GetCallContext", func(t *testing.T) {
		cc := NewCallContext("resources/read", "user://profile")
		cc.Principal = "apikey:web"

		got := GetCallContext(WithCallContext(context.Background(), cc))
		if got == nil {
			t.Fatal("GetCallContext() returned nil")
		}
		if got.Principal != "apikey:web" {
			t.Errorf("Principal = %q, want %q", got.Principal, "apikey:web")
		}
	})

	t.Run("GetCallContext not set", func(t *testing.T) {
		if got := GetCallContext(context.Background()); got != nil {
			t.Error("GetCallContext() expected nil for empty context")
		}
	})
}
