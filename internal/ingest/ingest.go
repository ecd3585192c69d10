// Package ingest implements the Ingestion Worker (C4): pulls post-merge
// tasks from the broker's consumer group, streams the merged object
// through the text extractor, runs the two-level splitter, and persists
// Passage rows. Orchestration shape (Process/stats accumulation, running
// chunk-id counter) is grounded on
// other_examples/.../knoguchi-rag ingestion/pipeline.go's Pipeline type;
// the actual splitting algorithm follows spec §4.4 via textextract.Split
// rather than that file's generic semantic/fixed/sentence method enum.
package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"knowledge-hub/internal/apperr"
	"knowledge-hub/internal/model"
	"knowledge-hub/internal/queue"
	"knowledge-hub/internal/textextract"
)

type PassageStore interface {
	SavePassage(ctx context.Context, p *model.Passage) error
}

type Embedder interface {
	EmbedAndIndex(ctx context.Context, fingerprint string) error
}

type ObjectOpener interface {
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

type Worker struct {
	broker        *queue.Broker
	store         ObjectOpener
	passages      PassageStore
	embedder      Embedder
	logger        *zap.Logger
	parentBufSize int
	targetSize    int
	memCapBytes   uint64
	httpClient    *http.Client
	consumerName  string
}

func New(broker *queue.Broker, store ObjectOpener, passages PassageStore, embedder Embedder, logger *zap.Logger, parentBufSize, targetSize int, memCapBytes uint64, consumerName string) *Worker {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	return &Worker{
		broker: broker, store: store, passages: passages, embedder: embedder, logger: logger,
		parentBufSize: parentBufSize, targetSize: targetSize, memCapBytes: memCapBytes,
		httpClient:   &http.Client{Timeout: 180 * time.Second, Transport: transport},
		consumerName: consumerName,
	}
}

// MemoryPressureOK checks resident usage against the configured cap and
// requests a GC hint before re-checking, matching spec §4.4's back-
// pressure rule.
func (w *Worker) MemoryPressureOK() bool {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if float64(m.Sys) < 0.8*float64(w.memCapBytes) {
		return true
	}
	runtime.GC()
	runtime.ReadMemStats(&m)
	return float64(m.Sys) < 0.8*float64(w.memCapBytes)
}

// RunOnce polls the broker once, processing whatever deliveries are
// returned. It is the unit the worker main loop calls repeatedly.
func (w *Worker) RunOnce(ctx context.Context) {
	deliveries, err := w.broker.Consume(ctx, w.consumerName, 10)
	if err != nil {
		w.logger.Error("consume post-merge tasks", zap.Error(err))
		return
	}
	for _, d := range deliveries {
		w.handle(ctx, d)
	}
}

// ReclaimIdleMillis is how long a task must sit unacknowledged in a
// consumer's pending-entries list before another worker may reclaim and
// reprocess it. Bare XREADGROUP with ">" only ever hands out new stream
// entries; a task left unacked after a MemoryPressure rejection or a
// processing failure (handle, below) would otherwise sit in the PEL
// forever. ReclaimOnce is what actually implements spec §4.4/§7's "the
// broker redelivers" guarantee.
const ReclaimIdleMillis = 30_000

// ReclaimOnce claims and reprocesses stale pending deliveries. The
// worker main loop calls this on the same cadence as RunOnce so
// redelivery keeps making progress even while the stream itself is
// quiet.
func (w *Worker) ReclaimOnce(ctx context.Context) {
	deliveries, err := w.broker.ReclaimStale(ctx, w.consumerName, ReclaimIdleMillis, 10)
	if err != nil {
		w.logger.Error("reclaim stale post-merge tasks", zap.Error(err))
		return
	}
	for _, d := range deliveries {
		w.handle(ctx, d)
	}
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	if !w.MemoryPressureOK() {
		w.logger.Warn("rejecting task under memory pressure, will be redelivered",
			zap.String("fingerprint", d.Task.Fingerprint))
		return // leave unacked: broker redelivers (spec §4.4/§7)
	}

	if err := w.processTask(ctx, d.Task); err != nil {
		w.logger.Error("ingestion task failed, leaving for redelivery",
			zap.String("fingerprint", d.Task.Fingerprint), zap.Error(err))
		return
	}

	if err := w.broker.Ack(ctx, d.ID); err != nil {
		w.logger.Error("ack post-merge task", zap.Error(err))
	}
}

func (w *Worker) processTask(ctx context.Context, task queue.PostMergeTask) error {
	r, err := w.openStream(ctx, task.MergedURL)
	if err != nil {
		return err
	}
	defer r.Close()

	chunkID := 0
	parser := textextract.NewParser()
	var parentBuf strings.Builder

	flushParent := func() error {
		if parentBuf.Len() == 0 {
			return nil
		}
		passages := textextract.Split(parentBuf.String(), w.targetSize)
		parentBuf.Reset()
		for _, text := range passages {
			chunkID++
			if err := w.passages.SavePassage(ctx, &model.Passage{
				Fingerprint: task.Fingerprint,
				ChunkID:     chunkID,
				Text:        text,
				Owner:       task.UserID,
				ScopeTag:    task.ScopeTag,
				IsPublic:    task.IsPublic,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	var parseErr error
	err = parser.Parse(r, func(chars string) {
		if parseErr != nil {
			return
		}
		parentBuf.WriteString(chars)
		if parentBuf.Len() >= w.parentBufSize {
			if err := flushParent(); err != nil {
				parseErr = err
			}
		}
	}, func() {
		if parseErr != nil {
			return
		}
		parseErr = flushParent()
	})
	if err != nil {
		return apperr.Upstream("stream parse merged object", err)
	}
	if parseErr != nil {
		return parseErr
	}

	return w.embedder.EmbedAndIndex(ctx, task.Fingerprint)
}

// openStream opens the merged object either as a local object-store path
// or, when mergedURL is an http(s) URL, as a streamed GET with a 30s
// connect timeout, a 180s client timeout covering the whole request
// (body read included), and the expired-link handling of spec §4.4 step 1.
func (w *Worker) openStream(ctx context.Context, mergedURL string) (io.ReadCloser, error) {
	if !strings.HasPrefix(mergedURL, "http://") && !strings.HasPrefix(mergedURL, "https://") {
		return w.store.GetObject(ctx, mergedURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mergedURL, nil)
	if err != nil {
		return nil, apperr.Upstream("build merged object request", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Upstream("fetch merged object", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, apperr.Upstream("merged object link expired", nil)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperr.Upstream("unexpected status fetching merged object", nil)
	}
	return resp.Body, nil
}
