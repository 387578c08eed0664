package app

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// TestServe_MemoryStore_ShutsDownOnCancel はserveがコンテキストのキャンセルで正常終了することを検証する。
func TestServe_MemoryStore_ShutsDownOnCancel(t *testing.T) {
	setMemoryEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	root := NewRootCommand(&buf)
	root.SetArgs([]string{"serve"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v\nlog: %s", err, buf.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down after context cancellation")
	}
}
