// Package queue is the post-merge task broker (spec §4.3 step 7, §4.4).
// The teacher's own services never wire a message broker, but its root
// go.mod already depends on redis/go-redis/v9 — this package generalizes
// that same client onto Redis Streams (XADD/XREADGROUP/XACK), which gives
// the "named consumer group" semantics spec §4.4 calls for without adding
// a dependency the teacher lineage doesn't already carry.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"knowledge-hub/internal/apperr"
)

const (
	StreamKey     = "post_merge_tasks"
	ConsumerGroup = "ingestion_workers"
)

type PostMergeTask struct {
	Fingerprint string `json:"fingerprint"`
	MergedURL   string `json:"mergedUrl"`
	Filename    string `json:"filename"`
	UserID      string `json:"userId"`
	ScopeTag    string `json:"scopeTag"`
	IsPublic    bool   `json:"isPublic"`
}

type Broker struct {
	client *redis.Client
}

func New(client *redis.Client) *Broker {
	return &Broker{client: client}
}

// EnsureGroup creates the consumer group if absent; idempotent across
// worker restarts.
func (b *Broker) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return apperr.Upstream("create consumer group", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Enqueue publishes a post-merge task. Called immediately after the
// relational status-update commit (spec §4.3 step 7; see DESIGN.md for
// why true cross-store atomicity is not attempted).
func (b *Broker) Enqueue(ctx context.Context, task PostMergeTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return apperr.Upstream("marshal post-merge task", err)
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		Values: map[string]any{"payload": payload},
	}).Err(); err != nil {
		return apperr.Upstream("enqueue post-merge task", err)
	}
	return nil
}

// Delivery is one redelivered-or-fresh message handed to a consumer.
type Delivery struct {
	ID   string
	Task PostMergeTask
}

// Consume reads up to count pending tasks for the named consumer within
// the shared group. Block is bounded (rather than 0/forever) so the
// worker main loop regularly regains control to run ReclaimStale even
// when the stream is quiet; cmd/worker's runWorker interleaves the two
// (via ingest.Worker's RunOnce and ReclaimOnce) on the same cadence.
const consumeBlock = 5 * time.Second

func (b *Broker) Consume(ctx context.Context, consumerName string, count int64) ([]Delivery, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumerName,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    consumeBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperr.Upstream("read post-merge tasks", err)
	}

	var out []Delivery
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["payload"].(string)
			var task PostMergeTask
			if jsonErr := json.Unmarshal([]byte(raw), &task); jsonErr != nil {
				continue
			}
			out = append(out, Delivery{ID: msg.ID, Task: task})
		}
	}
	return out, nil
}

// Ack acknowledges successful processing so the broker does not redeliver.
func (b *Broker) Ack(ctx context.Context, id string) error {
	if err := b.client.XAck(ctx, StreamKey, ConsumerGroup, id).Err(); err != nil {
		return apperr.Upstream("ack post-merge task", err)
	}
	return nil
}

// ReclaimStale re-delivers messages that have sat unacknowledged past
// minIdle to consumerName, implementing the broker-redelivery guarantee
// spec §4.4/§7 rely on for unhandled ingestion errors and MemoryPressure
// rejections.
func (b *Broker) ReclaimStale(ctx context.Context, consumerName string, minIdleMillis int64, count int64) ([]Delivery, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamKey,
		Group:  ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, apperr.Upstream("list pending tasks", err)
	}

	var ids []string
	for _, p := range pending {
		if p.Idle.Milliseconds() >= minIdleMillis {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: consumerName,
		MinIdle:  0,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, apperr.Upstream("claim pending tasks", err)
	}

	var out []Delivery
	for _, msg := range msgs {
		raw, _ := msg.Values["payload"].(string)
		var task PostMergeTask
		if jsonErr := json.Unmarshal([]byte(raw), &task); jsonErr != nil {
			continue
		}
		out = append(out, Delivery{ID: msg.ID, Task: task})
	}
	return out, nil
}
