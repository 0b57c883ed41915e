package commands

import "sync"

// PaletteState is what the command palette shows.
type PaletteState struct {
	Visible bool     `json:"visible"`
	Query   string   `json:"query"`
	Results []string `json:"results"`
}

// Palette tracks the command palette overlay. Its results come from the
// dispatcher it is bound to.
type Palette struct {
	mu        sync.Mutex
	visible   bool
	query     string
	source    *Dispatcher
	listeners []func(PaletteState)
}

// NewPalette returns a hidden palette.
func NewPalette() *Palette {
	return &Palette{}
}

// Bind sets the dispatcher whose commands the palette lists.
func (p *Palette) Bind(d *Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = d
}

// Subscribe registers fn to be called after every palette change.
func (p *Palette) Subscribe(fn func(PaletteState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Toggle shows a hidden palette or hides a visible one. Opening starts with
// an empty query.
func (p *Palette) Toggle() {
	p.mu.Lock()
	p.visible = !p.visible
	p.query = ""
	p.mu.Unlock()
	p.changed()
}

// Dismiss hides the palette.
func (p *Palette) Dismiss() {
	p.mu.Lock()
	if !p.visible && p.query == "" {
		p.mu.Unlock()
		return
	}
	p.visible = false
	p.query = ""
	p.mu.Unlock()
	p.changed()
}

// SetQuery updates the filter text.
func (p *Palette) SetQuery(q string) {
	p.mu.Lock()
	if p.query == q {
		p.mu.Unlock()
		return
	}
	p.query = q
	p.mu.Unlock()
	p.changed()
}

// State returns the palette state with the filtered command names.
func (p *Palette) State() PaletteState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Palette) stateLocked() PaletteState {
	results := []string{}
	if p.source != nil {
		results = names(p.source.Filter(p.query))
	}
	return PaletteState{Visible: p.visible, Query: p.query, Results: results}
}

func (p *Palette) changed() {
	p.mu.Lock()
	state := p.stateLocked()
	listeners := append([]func(PaletteState){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
