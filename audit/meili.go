package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

// DefaultMeiliIndex is the index records go to when none is configured.
const DefaultMeiliIndex = "relay-dispatches"

// MeiliSink indexes records in Meilisearch so dispatch history can be
// searched by event, tool, session or note text.
type MeiliSink struct {
	client meilisearch.ServiceManager
	index  meilisearch.IndexManager
}

// NewMeiliSink connects to endpoint and makes sure indexName exists with the
// attributes relay filters and sorts on. It fails fast when Meilisearch is
// unreachable.
func NewMeiliSink(endpoint, apiKey, indexName string) (*MeiliSink, error) {
	if indexName == "" {
		indexName = DefaultMeiliIndex
	}
	client := meilisearch.New(endpoint, meilisearch.WithAPIKey(apiKey))
	if !client.IsHealthy() {
		return nil, fmt.Errorf("meilisearch at %s is not healthy", endpoint)
	}

	_, err := client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        indexName,
		PrimaryKey: "id",
	})
	if err != nil {
		return nil, fmt.Errorf("create index %q: %w", indexName, err)
	}
	index := client.Index(indexName)

	taskInfo, err := index.UpdateSearchableAttributes(&[]string{
		"event",
		"tool_name",
		"block_reason",
		"error_message",
		"notes_flat",
		"session_id",
	})
	if err != nil {
		return nil, fmt.Errorf("update searchable attributes: %w", err)
	}
	if err := waitForTask(client, taskInfo, "searchable attributes"); err != nil {
		return nil, err
	}

	filterAttrs := []interface{}{
		"event",
		"role",
		"run_id",
		"session_id",
		"tool_name",
		"ok",
		"allow",
		"error_code",
		"timestamp_unix",
	}
	taskInfo, err = index.UpdateFilterableAttributes(&filterAttrs)
	if err != nil {
		return nil, fmt.Errorf("update filterable attributes: %w", err)
	}
	if err := waitForTask(client, taskInfo, "filterable attributes"); err != nil {
		return nil, err
	}

	taskInfo, err = index.UpdateSortableAttributes(&[]string{
		"timestamp_unix",
		"duration_ms",
	})
	if err != nil {
		return nil, fmt.Errorf("update sortable attributes: %w", err)
	}
	if err := waitForTask(client, taskInfo, "sortable attributes"); err != nil {
		return nil, err
	}

	return &MeiliSink{client: client, index: index}, nil
}

func waitForTask(client meilisearch.ServiceManager, taskInfo *meilisearch.TaskInfo, name string) error {
	task, err := client.WaitForTask(taskInfo.TaskUID, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", name, err)
	}
	if task.Status == meilisearch.TaskStatusFailed {
		return fmt.Errorf("%s task failed: %s", name, task.Error.Message)
	}
	return nil
}

// Write enqueues rec for indexing. Meilisearch indexes asynchronously; an
// error means the enqueue itself failed.
func (s *MeiliSink) Write(ctx context.Context, rec Record) error {
	pk := "id"
	_, err := s.index.AddDocumentsWithContext(ctx, []Record{rec}, &meilisearch.DocumentOptions{
		PrimaryKey: &pk,
	})
	if err != nil {
		return fmt.Errorf("index record %s: %w", rec.ID, err)
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client holds nothing that needs releasing.
func (s *MeiliSink) Close() error {
	return nil
}

var _ Sink = (*MeiliSink)(nil)
