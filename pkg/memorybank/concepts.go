package memorybank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/recallhq/recall-go/pkg/core"
)

// AddConcepts merges the given concepts into the scope's concept table.
//
// Merge is by name: an existing concept's frequency is incremented, its
// LastSeen refreshed, and its relationships unioned with the incoming
// entry. New concepts are inserted with frequency 1. If the table would
// exceed MaxConcepts, entries are evicted by ascending (frequency,
// lastSeen) until back under capacity.
//
// Returns the number of concepts inserted (merged concepts do not
// count).
func (b *Bank) AddConcepts(ctx context.Context, scope core.Scope, concepts []core.ConceptEntry) (int, error) {
	if scope.IsZero() {
		return 0, core.NewError("AddConcepts", core.ErrValidation)
	}
	if len(concepts) == 0 {
		return 0, nil
	}

	release := b.locker.Acquire(scope.Key() + ":concepts")
	defer release()

	existing, err := b.readConcepts(scope)
	if err != nil {
		return 0, core.NewError("AddConcepts", err)
	}

	// Work on pointers so merges and inserts share one view of the
	// table regardless of slice growth.
	table := make([]*core.ConceptEntry, len(existing))
	byName := make(map[string]*core.ConceptEntry, len(existing))
	for i := range existing {
		table[i] = &existing[i]
		byName[existing[i].Name] = table[i]
	}

	now := time.Now()
	added := 0
	for _, incoming := range concepts {
		name := strings.TrimSpace(incoming.Name)
		if name == "" {
			continue
		}

		if current, ok := byName[name]; ok {
			current.Frequency++
			current.LastSeen = now
			if incoming.Description != "" {
				current.Description = incoming.Description
			}
			if incoming.Confidence > current.Confidence {
				current.Confidence = incoming.Confidence
			}
			grew := unionRelationships(current, incoming.Relationships)
			b.appendJournal(scope, core.JournalEntry{
				Timestamp:   now,
				EventType:   core.EventReinforce,
				Content:     fmt.Sprintf("concept %q reinforced (frequency %d)", name, current.Frequency),
				ImpactScore: 0.2,
			})
			if grew {
				b.appendJournal(scope, core.JournalEntry{
					Timestamp:   now,
					EventType:   core.EventConnect,
					Content:     fmt.Sprintf("concept %q connected to %s", name, strings.Join(current.Relationships, ", ")),
					ImpactScore: 0.3,
				})
			}
			continue
		}

		entry := incoming
		entry.Name = name
		entry.Frequency = 1
		entry.FirstSeen = now
		entry.LastSeen = now
		if entry.Confidence == 0 {
			entry.Confidence = 0.5
		}
		table = append(table, &entry)
		byName[name] = &entry
		added++

		b.appendJournal(scope, core.JournalEntry{
			Timestamp:   now,
			EventType:   core.EventLearn,
			Content:     fmt.Sprintf("concept %q learned", name),
			Metadata:    map[string]interface{}{"category": entry.Category},
			ImpactScore: 0.4,
		})
	}

	merged := make([]core.ConceptEntry, len(table))
	for i, c := range table {
		merged[i] = *c
	}
	merged = b.evictConcepts(scope, merged)

	if err := b.writeConcepts(scope, merged); err != nil {
		return 0, core.NewError("AddConcepts", err)
	}

	if err := b.touch(scope, func(m *metadata) { m.Stats.ConceptsAdded += added }); err != nil {
		return 0, core.NewError("AddConcepts", err)
	}

	return added, nil
}

// evictConcepts drops the least-valuable concepts until the table fits
// MaxConcepts. Eviction order is ascending (frequency, lastSeen):
// rarely-seen, stalest entries first.
func (b *Bank) evictConcepts(scope core.Scope, concepts []core.ConceptEntry) []core.ConceptEntry {
	if len(concepts) <= MaxConcepts {
		return concepts
	}

	sort.SliceStable(concepts, func(i, j int) bool {
		if concepts[i].Frequency != concepts[j].Frequency {
			return concepts[i].Frequency < concepts[j].Frequency
		}
		return concepts[i].LastSeen.Before(concepts[j].LastSeen)
	})

	evicted := concepts[:len(concepts)-MaxConcepts]
	kept := concepts[len(concepts)-MaxConcepts:]

	for _, e := range evicted {
		b.appendJournal(scope, core.JournalEntry{
			Timestamp:   time.Now(),
			EventType:   core.EventForget,
			Content:     fmt.Sprintf("concept %q evicted (frequency %d)", e.Name, e.Frequency),
			ImpactScore: 0.2,
		})
	}

	b.logger.Debug().
		Str("scope", scope.Key()).
		Int("evicted", len(evicted)).
		Msg("concept table over capacity")

	return kept
}

// unionRelationships merges incoming relationship names into the
// concept, reporting whether any were new.
func unionRelationships(concept *core.ConceptEntry, incoming []string) bool {
	seen := make(map[string]bool, len(concept.Relationships))
	for _, r := range concept.Relationships {
		seen[r] = true
	}

	grew := false
	for _, r := range incoming {
		r = strings.TrimSpace(r)
		if r == "" || r == concept.Name || seen[r] {
			continue
		}
		concept.Relationships = append(concept.Relationships, r)
		seen[r] = true
		grew = true
	}
	return grew
}

// SearchConcepts returns concepts whose name or description contains the
// query (case-insensitive), optionally restricted to a category. An
// empty query matches everything in the category.
func (b *Bank) SearchConcepts(ctx context.Context, scope core.Scope, query, category string) ([]core.ConceptEntry, error) {
	if scope.IsZero() {
		return nil, core.NewError("SearchConcepts", core.ErrValidation)
	}

	concepts, err := b.readConcepts(scope)
	if err != nil {
		return nil, core.NewError("SearchConcepts", err)
	}

	needle := strings.ToLower(strings.TrimSpace(query))

	var matched []core.ConceptEntry
	for _, c := range concepts {
		if category != "" && c.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(strings.ToLower(c.Description), needle) {
			continue
		}
		matched = append(matched, c)
	}

	return matched, nil
}
