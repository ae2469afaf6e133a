package handlers

import "sync"

// broadcastDraft remembers which message an admin wants broadcast
// while they pick the target audience.
type broadcastDraft struct {
	FromChatID int64
	MessageID  int
}

// PanelState holds the per-admin pending-edit states of the admin
// panel. Each pending edit resolves into a single settings-store call;
// cancellation discards the state without applying anything.
type PanelState struct {
	mu               sync.Mutex
	pendingDelay     map[int64]bool
	pendingChannel   map[int64]bool
	pendingBroadcast map[int64]broadcastDraft
}

// NewPanelState creates an empty panel state.
func NewPanelState() *PanelState {
	return &PanelState{
		pendingDelay:     make(map[int64]bool),
		pendingChannel:   make(map[int64]bool),
		pendingBroadcast: make(map[int64]broadcastDraft),
	}
}

func (p *PanelState) awaitDelay(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingDelay[userID] = true
}

func (p *PanelState) takeDelay(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pendingDelay[userID] {
		return false
	}
	delete(p.pendingDelay, userID)
	return true
}

func (p *PanelState) awaitChannel(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingChannel[userID] = true
}

func (p *PanelState) takeChannel(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pendingChannel[userID] {
		return false
	}
	delete(p.pendingChannel, userID)
	return true
}

func (p *PanelState) setBroadcast(userID int64, draft broadcastDraft) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingBroadcast[userID] = draft
}

func (p *PanelState) takeBroadcast(userID int64) (broadcastDraft, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	draft, ok := p.pendingBroadcast[userID]
	if ok {
		delete(p.pendingBroadcast, userID)
	}
	return draft, ok
}

// clear discards every pending edit of userID and reports whether
// anything was pending.
func (p *PanelState) clear(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	had := p.pendingDelay[userID] || p.pendingChannel[userID]
	if _, ok := p.pendingBroadcast[userID]; ok {
		had = true
	}
	delete(p.pendingDelay, userID)
	delete(p.pendingChannel, userID)
	delete(p.pendingBroadcast, userID)
	return had
}
