// Package events carries datastore change notices and push messages over a
// message bus so that several processes sharing one database observe each
// other's writes.
package events

import (
	"context"
	"fmt"
	"strings"
)

// Subject constants.
const (
	// TopicNodePrefix prefixes every node change subject. The remaining
	// tokens are the escaped keys of the written path.
	TopicNodePrefix = "fbutil.node"

	// TopicNodeAll matches every node change subject.
	TopicNodeAll = TopicNodePrefix + ".>"

	// rootToken stands in for the empty root path.
	rootToken = "~"

	TopicPushDevice = "fbutil.push.device"
	TopicPushTopic  = "fbutil.push.topic"
)

// NodeChanged announces a committed write at Path. Origin identifies the
// writing process so it can skip its own notices.
type NodeChanged struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
}

// NodeTopic returns the subject a write at path is published on.
func NodeTopic(path string) string {
	var tokens []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			tokens = append(tokens, escapeToken(p))
		}
	}
	if len(tokens) == 0 {
		return TopicNodePrefix + "." + rootToken
	}
	return TopicNodePrefix + "." + strings.Join(tokens, ".")
}

// escapeToken hex-encodes bytes NATS treats specially or that are not
// printable ASCII.
func escapeToken(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "~%02X", c)
		}
	}
	return b.String()
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
