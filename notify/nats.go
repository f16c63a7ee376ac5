package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for status events.
const DefaultSubjectPrefix = "docindex.documents"

// NATS publishes notifications as JSON to
//
//	{prefix}.{document_id}.{stage}
//
// so subscribers can follow one document with "{prefix}.{id}.>" or every
// failure with "{prefix}.*.failed".
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS creates a notifier over an existing connection. An empty prefix
// uses DefaultSubjectPrefix.
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix}
}

// Subject returns the subject a notification is published on.
func (n *NATS) Subject(note Notification) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, note.DocumentID, note.Stage)
}

// Notify publishes note. NATS publishes are buffered and do not block on ctx.
func (n *NATS) Notify(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.conn.Publish(n.Subject(note), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
