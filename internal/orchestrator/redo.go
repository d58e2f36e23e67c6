package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/thamizh-labs/palmscribe/internal/common"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

// Redo operations re-invoke the restoration service against the currently
// displayed image and replace only the in-memory view. They never touch the
// store; the committed record keeps the restoration it was created with.

// ErrNoDisplayedImage is returned when a redo is requested with no active session image.
var ErrNoDisplayedImage = errors.New("no image displayed")

// ErrEmptyInstruction is returned when an edit carries no instruction text.
var ErrEmptyInstruction = errors.New("instruction is empty")

// RetryRestoration re-runs restoration on the displayed image with a random
// variation hint. On service failure or an absent result the previous image is
// kept and no error is surfaced beyond a log entry.
func (o *Orchestrator) RetryRestoration(ctx context.Context) error {
	displayed, gen, err := o.beginRedo()
	if err != nil {
		return err
	}

	mime, payload, err := manuscript.ParseImage(displayed)
	if err != nil {
		o.endRedo(gen)
		return fmt.Errorf("parse displayed image: %w", err)
	}

	// The variation only biases the service toward a different output; nothing
	// depends on its value.
	variation := rand.IntN(common.VariationUpperBound)
	img, err := o.restorer.Restore(ctx, inference.RestoreRequest{
		Image:     payload,
		MimeType:  mime,
		Variation: &variation,
	})
	switch {
	case err != nil:
		o.log.Warn("retry restoration failed, keeping previous image", "err", err)
		o.endRedo(gen)
	case img == "":
		o.log.Warn("retry restoration returned no image, keeping previous image")
		o.endRedo(gen)
	default:
		o.replaceDisplayed(gen, img)
	}
	return nil
}

// EditRestoration re-runs restoration with a free-text instruction. Failures
// set a user-visible error and keep the previous image.
func (o *Orchestrator) EditRestoration(ctx context.Context, instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return ErrEmptyInstruction
	}
	displayed, gen, err := o.beginRedo()
	if err != nil {
		return err
	}

	mime, payload, err := manuscript.ParseImage(displayed)
	if err != nil {
		o.endRedo(gen)
		return fmt.Errorf("parse displayed image: %w", err)
	}

	img, err := o.restorer.Restore(ctx, inference.RestoreRequest{
		Image:       payload,
		MimeType:    mime,
		Instruction: instruction,
	})
	switch {
	case err != nil:
		o.log.Warn("edit restoration failed, keeping previous image", "err", err)
		o.failRedo(gen, common.MsgEditFailed)
		return fmt.Errorf("edit restoration: %w", err)
	case img == "":
		o.log.Warn("edit restoration returned no image, keeping previous image")
		o.failRedo(gen, common.MsgEditFailed)
		return errors.New("edit restoration returned no image")
	default:
		o.replaceDisplayed(gen, img)
	}
	return nil
}

// beginRedo resolves the displayed image (latest restoration, else the
// original), flips the restoring flag, and pins the session generation so the
// completion can be discarded if a new submission supersedes it.
func (o *Orchestrator) beginRedo() (displayed, gen string, err error) {
	o.mu.Lock()
	displayed = o.original
	if o.restored != nil {
		displayed = *o.restored
	}
	if displayed == "" {
		o.mu.Unlock()
		return "", "", ErrNoDisplayedImage
	}
	gen = o.generation
	o.state.IsRestoring = true
	o.mu.Unlock()
	o.notify()
	return displayed, gen, nil
}

func (o *Orchestrator) endRedo(gen string) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state.IsRestoring = false
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) failRedo(gen, msg string) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state.IsRestoring = false
	o.state.Error = &msg
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) replaceDisplayed(gen, img string) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.state.IsRestoring = false
	v := img
	o.restored = &v
	o.mu.Unlock()
	o.notify()
}
