package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thamizh-labs/palmscribe/internal/common"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

// ErrEmptyImage is returned when a submission carries no image payload.
var ErrEmptyImage = errors.New("image is empty")

// ErrEmptyMimeType is returned when a submission carries no mime type.
var ErrEmptyMimeType = errors.New("mime type is empty")

// ProcessingState is the transient, per-session task state. It is never
// persisted; it is reset at every new submission and at explicit session reset.
type ProcessingState struct {
	IsRestoring bool    `json:"isRestoring"`
	IsAnalyzing bool    `json:"isAnalyzing"`
	Error       *string `json:"error,omitempty"`
}

// Snapshot is a copy of the observable session handed to observers and the
// HTTP layer. Mutating a snapshot has no effect on the orchestrator.
type Snapshot struct {
	OriginalImage string               `json:"originalImage,omitempty"`
	RestoredImage *string              `json:"restoredImage,omitempty"`
	Analysis      *manuscript.Analysis `json:"analysis,omitempty"`
	State         ProcessingState      `json:"state"`
	History       []manuscript.Record  `json:"history"`
}

// Observer receives a snapshot after every observable state change.
type Observer func(Snapshot)

// Orchestrator runs exactly one restoration task and one analysis task per
// submission, concurrently, and commits their aggregate outcome to the store
// exactly once after both have settled. It owns the session's ProcessingState
// and the displayed images; the store owns the persisted record set.
type Orchestrator struct {
	log      *slog.Logger
	store    manuscript.Store
	restorer inference.Restorer
	analyzer inference.Analyzer

	mu         sync.Mutex
	generation string // current submission/session tag; completions from other generations are stale
	original   string
	restored   *string
	analysis   *manuscript.Analysis
	state      ProcessingState
	history    []manuscript.Record
	observers  []Observer
}

func New(log *slog.Logger, store manuscript.Store, restorer inference.Restorer, analyzer inference.Analyzer) *Orchestrator {
	return &Orchestrator{
		log:        log,
		store:      store,
		restorer:   restorer,
		analyzer:   analyzer,
		generation: uuid.NewString(),
	}
}

// Subscribe registers an observer for session changes. Observers are invoked
// outside the orchestrator lock and must not block for long.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// Snapshot returns a copy of the current session and history.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		OriginalImage: o.original,
		State:         o.state,
		History:       make([]manuscript.Record, len(o.history)),
	}
	copy(snap.History, o.history)
	if o.restored != nil {
		v := *o.restored
		snap.RestoredImage = &v
	}
	if o.analysis != nil {
		v := *o.analysis
		snap.Analysis = &v
	}
	return snap
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	snap := o.snapshotLocked()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()
	for _, obs := range observers {
		obs(snap)
	}
}

// Submit dispatches restoration and analysis for the image concurrently,
// exposes the original image and progressive task results to observers, waits
// for both tasks to settle, and commits exactly one record. It returns the new
// record id. Service failures are absorbed into an absent field; a store
// failure during commit is returned to the caller.
func (o *Orchestrator) Submit(ctx context.Context, imageBytes []byte, mimeType string) (int64, error) {
	if len(imageBytes) == 0 {
		o.failSubmission(common.MsgFileRead)
		return 0, ErrEmptyImage
	}
	if strings.TrimSpace(mimeType) == "" {
		o.failSubmission(common.MsgFileRead)
		return 0, ErrEmptyMimeType
	}

	original := manuscript.EncodeImage(mimeType, imageBytes)
	gen := uuid.NewString()

	o.mu.Lock()
	o.generation = gen
	o.original = original
	o.restored = nil
	o.analysis = nil
	o.state = ProcessingState{IsRestoring: true, IsAnalyzing: true}
	o.mu.Unlock()
	o.notify()

	var restored string
	var analysis *manuscript.Analysis

	// Settle-all join: task funcs always return nil so neither outcome can
	// cancel or mask the sibling task.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := o.restorer.Restore(gctx, inference.RestoreRequest{Image: imageBytes, MimeType: mimeType})
		if err != nil {
			// Restoration failures degrade silently to an absent restored image.
			o.log.Warn("restoration failed", "err", err)
			img = ""
		}
		restored = img
		o.settleRestoration(gen, img)
		return nil
	})
	g.Go(func() error {
		res, err := o.analyzer.Analyze(gctx, imageBytes, mimeType)
		if err != nil {
			o.log.Warn("analysis failed", "err", err)
			res = nil
		}
		analysis = res
		o.settleAnalysis(gen, res, err != nil)
		return nil
	})
	_ = g.Wait()

	rec := manuscript.Record{
		Timestamp:     time.Now().UnixMilli(),
		OriginalImage: original,
		Analysis:      analysis,
	}
	if restored != "" {
		rec.RestoredImage = &restored
	}

	// Exactly one create per submission, even when both tasks failed.
	id, err := o.store.Create(&rec)
	if err != nil {
		return 0, fmt.Errorf("commit manuscript: %w", err)
	}
	o.log.Info("manuscript committed", "id", id,
		"restored", rec.RestoredImage != nil, "analyzed", rec.Analysis != nil)

	if err := o.RefreshHistory(); err != nil {
		o.log.Warn("refresh history", "err", err)
	}
	return id, nil
}

func (o *Orchestrator) settleRestoration(gen, img string) {
	o.mu.Lock()
	if o.generation != gen {
		// Stale completion from a superseded submission.
		o.mu.Unlock()
		return
	}
	o.state.IsRestoring = false
	if img != "" {
		v := img
		o.restored = &v
	}
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) settleAnalysis(gen string, res *manuscript.Analysis, failed bool) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state.IsAnalyzing = false
	if failed {
		msg := common.MsgAnalysisFailed
		o.state.Error = &msg
	} else {
		o.analysis = res
	}
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) failSubmission(msg string) {
	o.mu.Lock()
	o.generation = uuid.NewString()
	o.original = ""
	o.restored = nil
	o.analysis = nil
	o.state = ProcessingState{Error: &msg}
	o.mu.Unlock()
	o.notify()
}

// RefreshHistory reloads the record list from the store and notifies observers.
func (o *Orchestrator) RefreshHistory() error {
	records, err := o.store.List()
	if err != nil {
		return fmt.Errorf("list manuscripts: %w", err)
	}
	o.mu.Lock()
	o.history = records
	o.mu.Unlock()
	o.notify()
	return nil
}

// Reset clears the session ("start new" action). In-flight completions from
// the previous submission become stale and are discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.generation = uuid.NewString()
	o.original = ""
	o.restored = nil
	o.analysis = nil
	o.state = ProcessingState{}
	o.mu.Unlock()
	o.notify()
}

// SelectRecord loads a committed record into the session for viewing.
func (o *Orchestrator) SelectRecord(id int64) error {
	records, err := o.store.List()
	if err != nil {
		return fmt.Errorf("list manuscripts: %w", err)
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		rec := records[i]
		o.mu.Lock()
		o.generation = uuid.NewString()
		o.original = rec.OriginalImage
		o.restored = rec.RestoredImage
		o.analysis = rec.Analysis
		o.state = ProcessingState{}
		o.history = records
		o.mu.Unlock()
		o.notify()
		return nil
	}
	return manuscript.ErrNotFound
}

// Delete removes a committed record and refreshes the observable history.
func (o *Orchestrator) Delete(id int64) error {
	if err := o.store.Delete(id); err != nil {
		return err
	}
	if err := o.RefreshHistory(); err != nil {
		o.log.Warn("refresh history", "err", err)
	}
	return nil
}
