package memorybank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall-go/pkg/core"
)

// UpdateContext appends a timestamped, sourced section to the scope's
// rolling context.
//
// If the result exceeds MaxContextSize, leading header lines are
// preserved and the oldest body content is dropped, keeping the most
// recent information (tail-biased retention).
func (b *Bank) UpdateContext(ctx context.Context, scope core.Scope, text, source string) error {
	if scope.IsZero() || strings.TrimSpace(text) == "" {
		return core.NewError("UpdateContext", core.ErrValidation)
	}

	release := b.locker.Acquire(scope.Key() + ":context")
	defer release()

	current, err := b.files.Read(scope.Key(), contextFile)
	if err != nil {
		// An uninitialized scope starts from the bare header.
		current = []byte(contextHeader)
	}

	section := fmt.Sprintf("\n## [%s] %s\n%s\n",
		time.Now().Format(time.RFC3339), source, strings.TrimSpace(text))

	updated := truncateContext(string(current)+section, MaxContextSize)

	if err := b.files.Write(scope.Key(), contextFile, []byte(updated)); err != nil {
		return core.NewError("UpdateContext", err)
	}

	if err := b.touch(scope, func(m *metadata) { m.Stats.ContextUpdates++ }); err != nil {
		return core.NewError("UpdateContext", err)
	}

	b.appendJournal(scope, core.JournalEntry{
		Timestamp:   time.Now(),
		EventType:   core.EventLearn,
		Content:     fmt.Sprintf("context updated from %s (%d bytes)", source, len(text)),
		Metadata:    map[string]interface{}{"source": source},
		ImpactScore: impactForSize(len(text)),
	})

	return nil
}

// truncateContext enforces the context size bound. Leading lines that
// start with "#" are treated as the header block and always kept; the
// oldest body content after them is dropped first.
func truncateContext(text string, maxSize int) string {
	if len(text) <= maxSize {
		return text
	}

	header, body := splitHeader(text)

	budget := maxSize - len(header)
	if budget <= 0 {
		// Degenerate header; keep its head and drop the rest.
		return text[:maxSize]
	}

	if len(body) > budget {
		body = body[len(body)-budget:]
		// Drop the partial leading line so the context starts at a
		// section boundary where possible.
		if idx := strings.Index(body, "\n## "); idx >= 0 {
			body = body[idx:]
		}
	}

	return header + body
}

// splitHeader separates leading "#" header lines from the body.
func splitHeader(text string) (header, body string) {
	lines := strings.SplitAfter(text, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" && i == 0 {
			continue
		}
		if !strings.HasPrefix(trimmed, "# ") && trimmed != "#" {
			break
		}
	}
	return strings.Join(lines[:i], ""), strings.Join(lines[i:], "")
}

// impactForSize maps a content size to a coarse impact score in [0, 1].
func impactForSize(n int) float64 {
	score := float64(n) / 2048.0
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}
