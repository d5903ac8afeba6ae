// Package memory holds the evidence collected during one run.
//
// Memory is partitioned by category. Each partition has its own lock, so
// writers for different categories never contend; locks are held only for
// the duration of a single call. Evidence is append-only: a duplicate
// identity key supersedes the weaker record instead of deleting it.
package memory

import (
	"sync"

	"marketintel/internal/scoring"
	"marketintel/internal/types"
)

type partition struct {
	mu       sync.RWMutex
	evidence []types.Evidence
	// active maps identity key to the index of the non-superseded record.
	active   map[string]int
	coverage float64
}

// Memory is the working memory of a single run. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	order      []types.Category
	partitions map[types.Category]*partition
}

// New creates an empty memory. The given categories fix the snapshot order;
// categories first seen later are appended in the order they are recorded.
func New(categories ...types.Category) *Memory {
	m := &Memory{partitions: make(map[types.Category]*partition)}
	for _, cat := range categories {
		m.partition(cat)
	}
	return m
}

func (m *Memory) partition(cat types.Category) *partition {
	m.mu.RLock()
	p, ok := m.partitions[cat]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.partitions[cat]; ok {
		return p
	}
	p = &partition{active: make(map[string]int)}
	m.partitions[cat] = p
	m.order = append(m.order, cat)
	return p
}

func (m *Memory) lookup(cat types.Category) (*partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[cat]
	return p, ok
}

// Record appends evidence to a category and reports whether it is the
// active record for its identity key afterwards.
//
// On an identity collision the higher confidence wins; a tie keeps the
// earlier record. The loser stays in memory marked superseded.
func (m *Memory) Record(cat types.Category, ev types.Evidence) bool {
	ev = ev.Clone()
	ev.Category = cat
	ev.Confidence = scoring.Clamp(ev.Confidence)
	ev.Superseded = false
	ev.SupersededBy = 0

	p := m.partition(cat)
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ev.IdentityKey()
	if idx, ok := p.active[key]; ok {
		prev := &p.evidence[idx]
		if ev.Confidence <= prev.Confidence {
			ev.Superseded = true
			ev.SupersededBy = prev.Step
			p.evidence = append(p.evidence, ev)
			return false
		}
		prev.Superseded = true
		prev.SupersededBy = ev.Step
	}

	p.evidence = append(p.evidence, ev)
	p.active[key] = len(p.evidence) - 1
	if ev.Confidence > p.coverage {
		p.coverage = ev.Confidence
	}
	return true
}

// Coverage returns the highest confidence among active evidence of a
// category, or 0 when there is none.
func (m *Memory) Coverage(cat types.Category) float64 {
	p, ok := m.lookup(cat)
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coverage
}

// HasEvidence reports whether a category holds at least one active record.
func (m *Memory) HasEvidence(cat types.Category) bool {
	p, ok := m.lookup(cat)
	if !ok {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active) > 0
}

// Evidence returns a copy of every record of a category in insertion order,
// superseded records included.
func (m *Memory) Evidence(cat types.Category) []types.Evidence {
	p, ok := m.lookup(cat)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneAll(p.evidence)
}

// KeysOfKind returns the keys of the active evidence of a category whose
// record kind is kind, in insertion order. An empty kind matches every record.
func (m *Memory) KeysOfKind(cat types.Category, kind string) []string {
	p, ok := m.lookup(cat)
	if !ok {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	var keys []string
	for _, ev := range p.evidence {
		if !ev.Superseded && (kind == "" || ev.Kind == kind) {
			keys = append(keys, ev.Key)
		}
	}
	return keys
}

// Len returns the total number of records held, superseded included.
func (m *Memory) Len() int {
	m.mu.RLock()
	parts := make([]*partition, 0, len(m.partitions))
	for _, p := range m.partitions {
		parts = append(parts, p)
	}
	m.mu.RUnlock()

	n := 0
	for _, p := range parts {
		p.mu.RLock()
		n += len(p.evidence)
		p.mu.RUnlock()
	}
	return n
}

// Categories returns the categories in snapshot order.
func (m *Memory) Categories() []types.Category {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.Category(nil), m.order...)
}

// Snapshot returns a deep copy of memory as a bundle. Only Order and each
// report's Category, Evidence and Confidence are filled; resolution fields
// belong to the caller. Two snapshots with no Record in between are equal.
func (m *Memory) Snapshot() types.EvidenceBundle {
	order := m.Categories()
	bundle := types.EvidenceBundle{
		Order:      order,
		Categories: make(map[types.Category]types.CategoryReport, len(order)),
	}
	for _, cat := range order {
		p, _ := m.lookup(cat)
		p.mu.RLock()
		bundle.Categories[cat] = types.CategoryReport{
			Category:   cat,
			Evidence:   cloneAll(p.evidence),
			Confidence: p.coverage,
		}
		p.mu.RUnlock()
	}
	return bundle
}

func cloneAll(in []types.Evidence) []types.Evidence {
	out := make([]types.Evidence, len(in))
	for i, ev := range in {
		out[i] = ev.Clone()
	}
	return out
}
