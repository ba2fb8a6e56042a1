package memorybank

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall-go/pkg/core"
)

// journalDayFormat names one day-partition file, e.g.
// journal/2026-08-30.ndjson.
const journalDayFormat = "2006-01-02"

// appendJournal appends one entry to today's journal file and
// opportunistically purges partitions older than the retention window.
// Journal failures are logged, never propagated: the journal is an
// audit trail, not a dependency of the mutation that produced it.
func (b *Bank) appendJournal(scope core.Scope, entry core.JournalEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		b.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("journal entry marshal failed")
		return
	}

	name := journalFileName(entry.Timestamp)
	if err := b.files.AppendLine(scope.Key(), name, data); err != nil {
		b.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("journal append failed")
		return
	}

	if err := b.touch(scope, func(m *metadata) { m.Stats.JournalEntries++ }); err != nil {
		b.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("journal counter update failed")
	}

	b.purgeJournal(scope)
}

// journalFileName returns the partition file name for a timestamp.
func journalFileName(ts time.Time) string {
	return fmt.Sprintf("%s/%s.ndjson", journalDir, ts.Format(journalDayFormat))
}

// purgeJournal removes day partitions older than JournalRetentionDays.
func (b *Bank) purgeJournal(scope core.Scope) {
	names, err := b.files.ListFiles(scope.Key(), journalDir, "")
	if err != nil {
		b.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("journal list failed")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -JournalRetentionDays)
	for _, name := range names {
		day, err := time.Parse(journalDayFormat, strings.TrimSuffix(name, ".ndjson"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := b.files.Remove(scope.Key(), journalDir+"/"+name); err != nil {
				b.logger.Warn().Err(err).Str("file", name).Msg("journal purge failed")
			}
		}
	}
}

// recentJournal returns up to limit of the newest retained journal
// entries in chronological order. limit <= 0 returns all entries.
func (b *Bank) recentJournal(scope core.Scope, limit int) ([]core.JournalEntry, error) {
	names, err := b.files.ListFiles(scope.Key(), journalDir, "")
	if err != nil {
		return nil, err
	}

	// Day files sort lexically in date order; walk newest-first until
	// the limit is met.
	var entries []core.JournalEntry
	for i := len(names) - 1; i >= 0; i-- {
		lines, err := b.files.ReadLines(scope.Key(), journalDir+"/"+names[i])
		if err != nil {
			return nil, err
		}

		var day []core.JournalEntry
		for _, line := range lines {
			var entry core.JournalEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				continue
			}
			day = append(day, entry)
		}

		entries = append(day, entries...)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return entries, nil
}
