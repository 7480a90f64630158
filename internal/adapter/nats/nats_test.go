package nats

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Conn {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	c, err := Connect(context.Background(), url, slog.Default())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func TestInboxRoundTrip(t *testing.T) {
	c := testConnect(t)
	ctx := context.Background()

	type inbound struct {
		userID, text string
	}
	got := make(chan inbound, 1)
	stop, err := c.SubscribeInbox(ctx, func(userID, text string) {
		got <- inbound{userID, text}
	})
	if err != nil {
		t.Fatalf("SubscribeInbox: %v", err)
	}
	defer stop()

	userID := "user-" + t.Name()
	if _, err := c.js.Publish(ctx, inboxPrefix+userID, []byte("summarize the release notes")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-got:
		if m.userID != userID {
			t.Errorf("userID = %q, want %q", m.userID, userID)
		}
		if m.text != "summarize the release notes" {
			t.Errorf("text = %q", m.text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inbox message")
	}
}

func TestNotifierSend(t *testing.T) {
	c := testConnect(t)
	ctx := context.Background()

	n := &Notifier{conn: c}
	if n.Name() != "nats" {
		t.Fatalf("Name = %q, want nats", n.Name())
	}
	if err := n.Send(ctx, "user-"+t.Name(), "your session finished"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
