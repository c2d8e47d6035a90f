package orchestration

import "sync"

// Guards tracks which one-shot side effects (search creation, analysis
// creation) have already been triggered within a single conversation session.
// It is an injected object with a lifetime scoped to the session, never a
// process-wide singleton, so concurrent sessions and tests cannot interfere.
//
// The only mutating read is TryAcquire: check and mark happen inside one
// critical section, so two logically concurrent triggers racing within the
// same scheduling tick observe exactly one true and one false. Callers must
// invoke TryAcquire on the synchronous path before starting any asynchronous
// work. This protects a single session against duplicate triggers only;
// cross-client duplicate suppression is the unique-per-round constraint at
// record creation.
type Guards struct {
	mu                    sync.Mutex
	triggeredSearchRounds map[int]struct{}
	triggeredAnalysisRnds map[int]struct{}
	triggeredAnalysisIDs  map[string]struct{}
	createdAnalysisRounds map[int]struct{}
}

// NewGuards returns an empty guard set for one conversation session.
func NewGuards() *Guards {
	return &Guards{
		triggeredSearchRounds: make(map[int]struct{}),
		triggeredAnalysisRnds: make(map[int]struct{}),
		triggeredAnalysisIDs:  make(map[string]struct{}),
		createdAnalysisRounds: make(map[int]struct{}),
	}
}

// TryAcquireSearch marks round as search-triggered. It returns true exactly
// once per round; later calls return false until ReleaseSearch.
func (g *Guards) TryAcquireSearch(round int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.triggeredSearchRounds[round]; ok {
		return false
	}
	g.triggeredSearchRounds[round] = struct{}{}
	return true
}

// SearchTriggered reports whether the round's search trigger was consumed.
func (g *Guards) SearchTriggered(round int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.triggeredSearchRounds[round]
	return ok
}

// ReleaseSearch clears the round's search trigger, allowing a retry after a
// creation failure.
func (g *Guards) ReleaseSearch(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.triggeredSearchRounds, round)
}

// TryAcquireAnalysis marks round as analysis-triggered. It returns true
// exactly once per round; later calls return false until ReleaseAnalysis.
func (g *Guards) TryAcquireAnalysis(round int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.triggeredAnalysisRnds[round]; ok {
		return false
	}
	g.triggeredAnalysisRnds[round] = struct{}{}
	return true
}

// ReleaseAnalysis clears the round's analysis trigger.
func (g *Guards) ReleaseAnalysis(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.triggeredAnalysisRnds, round)
}

// TryAcquireAnalysisID marks a concrete analysis record as stream-triggered.
// It returns true exactly once per id.
func (g *Guards) TryAcquireAnalysisID(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.triggeredAnalysisIDs[id]; ok {
		return false
	}
	g.triggeredAnalysisIDs[id] = struct{}{}
	return true
}

// MarkAnalysisCreated records that the round's analysis record exists.
func (g *Guards) MarkAnalysisCreated(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdAnalysisRounds[round] = struct{}{}
}

// AnalysisCreated reports whether the round's analysis record was created in
// this session.
func (g *Guards) AnalysisCreated(round int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.createdAnalysisRounds[round]
	return ok
}

// Reset clears every tracking set. It is called synchronously on explicit
// round-boundary reset (e.g. the user abandons the thread) before any
// asynchronous cleanup runs, so a late-arriving response cannot revive a dead
// round. Guards are never cleared implicitly.
func (g *Guards) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggeredSearchRounds = make(map[int]struct{})
	g.triggeredAnalysisRnds = make(map[int]struct{})
	g.triggeredAnalysisIDs = make(map[string]struct{})
	g.createdAnalysisRounds = make(map[int]struct{})
}
