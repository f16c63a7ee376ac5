package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/poiesic/docindex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument() *core.Document {
	return &core.Document{
		ID:               core.NewDocumentID(),
		CollectionID:     core.NewDocumentID(),
		OriginalFileName: "report.pdf",
		Status:           core.StatusProcessing,
	}
}

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNew(t *testing.T) {
	doc := testDocument()
	n := New(doc, StageExtracting, MessageExtracting)

	assert.Equal(t, doc.ID, n.DocumentID)
	assert.Equal(t, "processing", n.StatusName)
	assert.Equal(t, "report.pdf", n.FileName)
	assert.False(t, n.Time.IsZero())
	assert.Equal(t, "An error occurred: boom", FailureMessage(errors.New("boom")))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	doc := testDocument()
	require.NoError(t, NewLog(logger).Notify(context.Background(), New(doc, StageFailed, "An error occurred: x")))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "stage=failed")
	assert.Contains(t, out, doc.ID.String())
}

func TestMulti(t *testing.T) {
	var calls int
	ok := Func(func(context.Context, Notification) error { calls++; return nil })
	boom := errors.New("boom")
	bad := Func(func(context.Context, Notification) error { calls++; return boom })

	err := Multi{ok, bad, Noop{}, ok}.Notify(context.Background(), New(testDocument(), StageChunking, MessageChunking))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestNATS_Publishes(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	doc := testDocument()
	sub, err := nc.SubscribeSync(DefaultSubjectPrefix + "." + doc.ID.String() + ".>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	notifier := NewNATS(nc, "")
	note := New(doc, StageEmbedding, MessageEmbedding)
	require.NoError(t, notifier.Notify(context.Background(), note))
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(msg.Subject, ".embedding"))

	var got Notification
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, doc.ID, got.DocumentID)
	assert.Equal(t, StageEmbedding, got.Stage)
	assert.Equal(t, MessageEmbedding, got.Message)
	assert.Equal(t, "processing", got.StatusName)
}

func TestNATS_ClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	err = NewNATS(nc, "custom").Notify(context.Background(), New(testDocument(), StageCompleted, MessageCompleted))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}
