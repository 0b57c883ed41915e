package preview

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/logging"
)

// Document is one composed preview, ready for the sandboxed renderer.
type Document struct {
	Revision uint64 `json:"revision"`
	HTML     string `json:"html"`
	Title    string `json:"title"`
}

// Renderer displays composed documents in isolation from the host page.
type Renderer interface {
	Render(ctx context.Context, doc Document) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, doc Document) error

// Render calls f(ctx, doc).
func (f RendererFunc) Render(ctx context.Context, doc Document) error {
	return f(ctx, doc)
}

// Pipeline turns buffer snapshots into rendered documents. Bursts of
// snapshots are coalesced so only the newest one is composed, and documents
// reach the renderer in strictly increasing revision order.
type Pipeline struct {
	compositor *Compositor
	renderer   Renderer
	debounce   time.Duration
	logger     logging.Logger

	mu       sync.Mutex
	pending  *buffer.Snapshot
	rendered uint64
	latest   Document
	hasDoc   bool
	wake     chan struct{}
	idle     *sync.Cond
	busy     bool
}

// NewPipeline creates a pipeline. A positive debounce delays composition
// until the snapshots stop arriving for that long.
func NewPipeline(compositor *Compositor, renderer Renderer, debounce time.Duration, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Pipeline{
		compositor: compositor,
		renderer:   renderer,
		debounce:   debounce,
		logger:     logger.WithComponent("preview"),
		wake:       make(chan struct{}, 1),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Submit queues a snapshot for rendering and never blocks. A snapshot that
// is not newer than the queued or last rendered one is dropped.
func (p *Pipeline) Submit(s buffer.Snapshot) {
	p.mu.Lock()
	if s.Revision <= p.rendered && p.hasDoc {
		p.mu.Unlock()
		return
	}
	if p.pending != nil && s.Revision <= p.pending.Revision {
		p.mu.Unlock()
		return
	}
	p.pending = &s
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run renders queued snapshots until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info(ctx, "Preview pipeline started", "debounce", p.debounce)
	defer p.logger.Info(ctx, "Preview pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}

		if p.debounce > 0 && !p.settle(ctx) {
			return ctx.Err()
		}

		p.renderPending(ctx)
	}
}

// settle waits until no snapshot arrived for one debounce interval.
func (p *Pipeline) settle(ctx context.Context) bool {
	timer := time.NewTimer(p.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-p.wake:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.debounce)
		case <-timer.C:
			return true
		}
	}
}

// Flush renders the queued snapshot, if any, on the calling goroutine.
func (p *Pipeline) Flush(ctx context.Context) {
	p.renderPending(ctx)
}

func (p *Pipeline) renderPending(ctx context.Context) {
	p.mu.Lock()
	for p.busy {
		p.idle.Wait()
	}
	snap := p.pending
	p.pending = nil
	if snap == nil || (p.hasDoc && snap.Revision <= p.rendered) {
		p.mu.Unlock()
		return
	}
	p.busy = true
	p.mu.Unlock()

	doc := Document{
		Revision: snap.Revision,
		HTML:     p.compositor.Recompose(*snap),
		Title:    Title(snap.Markup),
	}

	timer := logging.StartOperation(p.logger, "render")
	if p.renderer != nil {
		if err := p.renderer.Render(ctx, doc); err != nil {
			p.logger.Warn(ctx, err, "Renderer rejected document", "revision", doc.Revision)
		}
	}
	timer.End(ctx)

	p.mu.Lock()
	p.rendered = doc.Revision
	p.latest = doc
	p.hasDoc = true
	p.busy = false
	p.idle.Broadcast()
	p.mu.Unlock()
}

// Latest returns the most recently rendered document.
func (p *Pipeline) Latest() (Document, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasDoc
}
