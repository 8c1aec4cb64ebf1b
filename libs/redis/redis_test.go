package redis

import (
	"context"
	"testing"
	"time"
)

func TestConnectRejectsEmptyAddr(t *testing.T) {
	if _, err := Connect(context.Background(), Options{Addr: " "}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestConnectFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, Options{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond}); err == nil {
		t.Fatalf("expected ping failure")
	}
}
