// Package batch runs a per-item operation over a list of identifiers in
// consecutive fixed-width chunks. Items within a chunk run concurrently,
// chunks run strictly one after another with a pause between them, and
// every item's outcome is recorded without affecting its siblings.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketpulse/signals/engine/domain"
	"github.com/marketpulse/signals/pkg/fn"
	"github.com/marketpulse/signals/pkg/metrics"
)

// ErrorPreviewLimit bounds Summary.Errors.
const ErrorPreviewLimit = 10

// ReasonCancelled marks items that never started because the caller went
// away.
const ReasonCancelled = "cancelled"

// Status is the terminal state of one item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Job describes one run.
type Job[ID comparable] struct {
	IDs   []ID
	Width int
	Delay time.Duration
}

// Op processes one identifier.
type Op[ID comparable, T any] func(ctx context.Context, id ID) domain.Outcome[T]

// ItemResult is the recorded outcome for one identifier.
type ItemResult[ID comparable, T any] struct {
	ID     ID                 `json:"id"`
	Status Status             `json:"status"`
	Kind   domain.OutcomeKind `json:"-"`
	Result *T                 `json:"result,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Summary aggregates a run. Successful counts skipped items too, so
// Total == Successful + Failed always holds.
type Summary[ID comparable, T any] struct {
	Total      int                 `json:"total"`
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"`
	Results    []ItemResult[ID, T] `json:"results"`
	Errors     []ItemResult[ID, T] `json:"errors"`
}

// SuccessRate is Successful/Total as a percentage rounded to one decimal.
func (s Summary[ID, T]) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	rate := float64(s.Successful) / float64(s.Total) * 100
	return float64(int(rate*10+0.5)) / 10
}

func (s *Summary[ID, T]) add(r ItemResult[ID, T]) {
	s.Total++
	s.Results = append(s.Results, r)
	switch r.Status {
	case StatusSucceeded:
		s.Successful++
	case StatusSkipped:
		s.Successful++
		s.Skipped++
	default:
		s.Failed++
		if len(s.Errors) < ErrorPreviewLimit {
			s.Errors = append(s.Errors, r)
		}
	}
}

// Merge concatenates b onto a, as if both ran in one job.
func Merge[ID comparable, T any](a, b Summary[ID, T]) Summary[ID, T] {
	out := Summary[ID, T]{Results: make([]ItemResult[ID, T], 0, len(a.Results)+len(b.Results))}
	for _, r := range a.Results {
		out.add(r)
	}
	for _, r := range b.Results {
		out.add(r)
	}
	return out
}

// Completed is published after every run.
type Completed struct {
	Op         string        `json:"op"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration_ns"`
}

// Notifier receives run completions. Implementations must not block for
// long.
type Notifier interface {
	BatchCompleted(ctx context.Context, ev Completed)
}

// Sleeper pauses between chunks. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Scheduler holds run-independent settings. It is safe for concurrent use.
type Scheduler struct {
	sleep       Sleeper
	itemTimeout time.Duration
	reg         *metrics.Registry
	notifier    Notifier
	logger      *slog.Logger
}

type Option func(*Scheduler)

func WithSleeper(s Sleeper) Option { return func(sc *Scheduler) { sc.sleep = s } }

// WithItemTimeout bounds each item. Zero means no bound.
func WithItemTimeout(d time.Duration) Option { return func(sc *Scheduler) { sc.itemTimeout = d } }

func WithMetrics(r *metrics.Registry) Option { return func(sc *Scheduler) { sc.reg = r } }

func WithNotifier(n Notifier) Option { return func(sc *Scheduler) { sc.notifier = n } }

func WithLogger(l *slog.Logger) Option { return func(sc *Scheduler) { sc.logger = l } }

func New(opts ...Option) *Scheduler {
	s := &Scheduler{sleep: sleepCtx, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate applies the request checks Run performs before any work.
func Validate[ID comparable](job Job[ID]) error {
	if err := domain.ValidateBatchIDs(len(job.IDs)); err != nil {
		return err
	}
	return domain.ValidateBatchParams(job.Width, job.Delay)
}

// Run executes op for every distinct id in job. The only error returned
// is a validation error, before any item starts; per-item failures are in
// the summary.
//
// Once a chunk starts it runs to completion even if ctx is cancelled, so
// no item is abandoned halfway through a write. Cancellation prevents
// later chunks from starting; their ids are reported failed with
// ReasonCancelled.
func Run[ID comparable, T any](ctx context.Context, s *Scheduler, name string, job Job[ID], op Op[ID, T]) (Summary[ID, T], error) {
	if err := Validate(job); err != nil {
		return Summary[ID, T]{}, err
	}
	start := time.Now()
	sum := run(ctx, s, name, job, op)
	if sum.Total > 0 {
		finish(ctx, s, name, sum, time.Since(start))
	}
	return sum, nil
}

func run[ID comparable, T any](ctx context.Context, s *Scheduler, name string, job Job[ID], op Op[ID, T]) Summary[ID, T] {
	ids := fn.Unique(job.IDs)
	sum := Summary[ID, T]{Results: make([]ItemResult[ID, T], 0, len(ids))}
	if len(ids) == 0 {
		return sum
	}

	start := time.Now()
	chunks := fn.Chunk(ids, job.Width)
	log := s.logger.With("op", name, "total", len(ids), "width", job.Width, "chunks", len(chunks))
	log.Info("batch start", "delay", job.Delay)

	for i, chunk := range chunks {
		if i > 0 {
			if err := s.sleep(ctx, job.Delay); err != nil {
				cancelRest(&sum, chunks[i:])
				log.Warn("batch cancelled during pause", "chunk", i, "err", err)
				break
			}
		}
		if ctx.Err() != nil {
			cancelRest(&sum, chunks[i:])
			log.Warn("batch cancelled", "chunk", i, "err", ctx.Err())
			break
		}
		for _, r := range runChunk(ctx, s, name, chunk, op) {
			sum.add(r)
		}
		log.Debug("batch chunk done", "chunk", i, "size", len(chunk))
	}

	log.Info("batch done", "successful", sum.Successful, "failed", sum.Failed, "skipped", sum.Skipped, "elapsed", time.Since(start))
	return sum
}

// finish records one completed logical run.
func finish[ID comparable, T any](ctx context.Context, s *Scheduler, name string, sum Summary[ID, T], elapsed time.Duration) {
	if s.reg != nil {
		s.reg.Counter("batch_runs_total", "Completed batch runs", "op", name).Inc()
	}
	if s.notifier != nil {
		s.notifier.BatchCompleted(context.WithoutCancel(ctx), Completed{
			Op: name, Total: sum.Total, Successful: sum.Successful,
			Failed: sum.Failed, Skipped: sum.Skipped, Duration: elapsed,
		})
	}
}

// RunPaged is Run for selections that may exceed domain.MaxBatchIDs. The
// ids are split into consecutive pages of at most MaxBatchIDs and the pause
// between chunks also separates pages. The returned summary merges every
// page and completion is reported once for the whole selection.
func RunPaged[ID comparable, T any](ctx context.Context, s *Scheduler, name string, job Job[ID], op Op[ID, T]) (Summary[ID, T], error) {
	if err := domain.ValidateBatchParams(job.Width, job.Delay); err != nil {
		return Summary[ID, T]{}, err
	}
	start := time.Now()
	sum := Summary[ID, T]{Results: []ItemResult[ID, T]{}}
	for i, page := range fn.Chunk(fn.Unique(job.IDs), domain.MaxBatchIDs) {
		if i > 0 {
			if err := s.sleep(ctx, job.Delay); err != nil {
				cancelRest(&sum, [][]ID{page})
				continue
			}
		}
		sum = Merge(sum, run(ctx, s, name, Job[ID]{IDs: page, Width: job.Width, Delay: job.Delay}, op))
	}
	if sum.Total > 0 {
		finish(ctx, s, name, sum, time.Since(start))
	}
	return sum, nil
}

func cancelRest[ID comparable, T any](sum *Summary[ID, T], chunks [][]ID) {
	for _, chunk := range chunks {
		for _, id := range chunk {
			sum.add(ItemResult[ID, T]{ID: id, Status: StatusFailed, Kind: domain.OutcomeUpstream, Reason: ReasonCancelled})
		}
	}
}

// runChunk runs every id in chunk concurrently and returns results in
// chunk order. Items run detached from ctx's cancellation.
func runChunk[ID comparable, T any](ctx context.Context, s *Scheduler, name string, chunk []ID, op Op[ID, T]) []ItemResult[ID, T] {
	detached := context.WithoutCancel(ctx)
	results := fn.ParMapResult(detached, chunk, len(chunk), func(ctx context.Context, id ID) fn.Result[ItemResult[ID, T]] {
		if s.itemTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.itemTimeout)
			defer cancel()
		}
		begin := time.Now()
		r := toItem(id, op(ctx, id))
		s.observe(name, r.Status, begin)
		return fn.Ok(r)
	})

	out := make([]ItemResult[ID, T], len(chunk))
	for i, res := range results {
		r, err := res.Unwrap()
		if err != nil {
			r = ItemResult[ID, T]{ID: chunk[i], Status: StatusFailed, Kind: domain.OutcomeUpstream, Reason: err.Error()}
			s.logger.Error("batch item panicked", "op", name, "id", chunk[i], "err", err)
			s.observe(name, r.Status, time.Time{})
		}
		out[i] = r
	}
	return out
}

func toItem[ID comparable, T any](id ID, o domain.Outcome[T]) ItemResult[ID, T] {
	r := ItemResult[ID, T]{ID: id, Kind: o.Kind(), Reason: o.Reason()}
	switch o.Kind() {
	case domain.OutcomeOK:
		r.Status = StatusSucceeded
	case domain.OutcomeSkipped:
		r.Status = StatusSkipped
	default:
		r.Status = StatusFailed
		if r.Reason == "" {
			r.Reason = o.Kind().String()
		}
		return r
	}
	v := o.Value()
	r.Result = &v
	return r
}

func (s *Scheduler) observe(name string, status Status, begin time.Time) {
	if s.reg == nil {
		return
	}
	s.reg.Counter("batch_items_total", "Batch items by terminal status", "op", name, "status", string(status)).Inc()
	if !begin.IsZero() {
		s.reg.Histogram("batch_item_seconds", "Duration of one batch item", nil, "op", name).Since(begin)
	}
}
