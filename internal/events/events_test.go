package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestNodeTopic(t *testing.T) {
	for _, tc := range []struct {
		path string
		want string
	}{
		{"", "fbutil.node.~"},
		{"/", "fbutil.node.~"},
		{"Users", "fbutil.node.Users"},
		{"Users/-Nx1_a", "fbutil.node.Users.-Nx1_a"},
		{"A/B/C", "fbutil.node.A.B.C"},
		{"a b/*", "fbutil.node.a~20b.~2A"},
		{"x>y", "fbutil.node.x~3Ey"},
	} {
		if got := NodeTopic(tc.path); got != tc.want {
			t.Errorf("NodeTopic(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), NodeTopic("A"), NodeChanged{Path: "A"}); err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(TopicNodeAll, ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	event := NodeChanged{Path: "Users/u1", Origin: "proc-1"}
	if err := pub.Publish(context.Background(), NodeTopic(event.Path), event); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	pub.Flush()

	select {
	case msg := <-ch:
		if msg.Subject != "fbutil.node.Users.u1" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var got NodeChanged
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != event {
			t.Errorf("got %+v, want %+v", got, event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestNATSPublisher_CanceledContext(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicPushTopic, map[string]string{"a": "b"}); err == nil {
		t.Error("expected error publishing with canceled context")
	}
}

func TestNATSPublisher_Close(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	err = pub.Publish(context.Background(), NodeTopic("A"), NodeChanged{Path: "A"})
	if err == nil {
		t.Error("expected error publishing after close")
	}
}
