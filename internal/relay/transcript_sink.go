package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"demo-call-service/internal/client"
	"demo-call-service/internal/model"
)

// ESTranscriptSink indexes transcript lines into Elasticsearch.
type ESTranscriptSink struct {
	client *client.ESClient
	index  string
}

func NewESTranscriptSink(client *client.ESClient, index string) *ESTranscriptSink {
	return &ESTranscriptSink{client: client, index: index}
}

func (e *ESTranscriptSink) Index(ctx context.Context, entry model.TranscriptEntry) error {
	id := entry.SessionID + "-" + uuid.NewString()
	if err := e.client.IndexDocument(ctx, e.index, id, entry); err != nil {
		return fmt.Errorf("failed to index transcript: %w", err)
	}
	return nil
}
