package memorybank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/llm"
)

// summarySystemPrompt frames the text-generation call for summaries.
const summarySystemPrompt = `You maintain a concise summary of a user's knowledge scope.
Rewrite the summary using the previous summary, the key concepts, and the recent context.
Keep it factual, under 400 words, and preserve durable facts over transient details.`

// UpdateSummary regenerates the scope summary from the current concepts,
// a tail slice of the context, and the previous summary.
//
// The call is debounced: unless force is set, regeneration is skipped
// when less than SummaryMinInterval has elapsed since the last update,
// and the existing summary is returned. The result is clipped to
// MaxSummarySize. A text-generation failure keeps the previous summary
// rather than erasing it.
func (b *Bank) UpdateSummary(ctx context.Context, scope core.Scope, force bool) (string, error) {
	if scope.IsZero() {
		return "", core.NewError("UpdateSummary", core.ErrValidation)
	}

	release := b.locker.Acquire(scope.Key() + ":summary")
	defer release()

	meta, err := b.readMetadata(scope)
	if err != nil {
		return "", core.NewError("UpdateSummary", err)
	}

	previous, _ := b.files.Read(scope.Key(), summaryFile)

	if !force && time.Since(meta.LastSummaryAt) < SummaryMinInterval {
		return string(previous), nil
	}

	if b.llm == nil {
		return string(previous), nil
	}

	prompt, err := b.buildSummaryPrompt(scope, string(previous))
	if err != nil {
		return "", core.NewError("UpdateSummary", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.summaryTimeout)
	defer cancel()

	generated, err := b.llm.GenerateWithMessages(callCtx, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: prompt},
	}, llm.WithMaxTokens(600))
	if err != nil {
		// Timeout or provider error: keep the old summary.
		b.logger.Warn().Err(err).Str("scope", scope.Key()).Msg("summary generation failed")
		return string(previous), nil
	}

	summary := clip(strings.TrimSpace(generated), MaxSummarySize)

	if err := b.files.Write(scope.Key(), summaryFile, []byte(summary)); err != nil {
		return "", core.NewError("UpdateSummary", err)
	}

	meta.LastSummaryAt = time.Now()
	meta.UpdatedAt = meta.LastSummaryAt
	meta.Stats.SummaryUpdates++
	if err := b.writeMetadata(scope, meta); err != nil {
		return "", core.NewError("UpdateSummary", err)
	}

	b.appendJournal(scope, core.JournalEntry{
		Timestamp:   time.Now(),
		EventType:   core.EventLearn,
		Content:     fmt.Sprintf("summary regenerated (%d bytes)", len(summary)),
		ImpactScore: 0.5,
	})

	return summary, nil
}

// buildSummaryPrompt assembles the user prompt from the top concepts, a
// context tail, and the previous summary.
func (b *Bank) buildSummaryPrompt(scope core.Scope, previous string) (string, error) {
	concepts, err := b.readConcepts(scope)
	if err != nil {
		return "", err
	}
	if len(concepts) > summaryConceptLimit {
		concepts = concepts[:summaryConceptLimit]
	}

	var names []string
	for _, c := range concepts {
		if c.Category != "" {
			names = append(names, fmt.Sprintf("%s (%s, seen %d times)", c.Name, c.Category, c.Frequency))
		} else {
			names = append(names, fmt.Sprintf("%s (seen %d times)", c.Name, c.Frequency))
		}
	}

	contextText, _ := b.files.Read(scope.Key(), contextFile)
	tail := string(contextText)
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}

	var sb strings.Builder
	sb.WriteString("Previous summary:\n")
	if strings.TrimSpace(previous) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(previous + "\n")
	}
	sb.WriteString("\nKey concepts:\n")
	if len(names) == 0 {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString("- " + strings.Join(names, "\n- ") + "\n")
	}
	sb.WriteString("\nRecent context:\n")
	sb.WriteString(tail)

	return sb.String(), nil
}

// clip bounds text to max bytes without splitting the final line
// mid-word where avoidable.
func clip(text string, max int) string {
	if len(text) <= max {
		return text
	}
	clipped := text[:max]
	if idx := strings.LastIndexByte(clipped, ' '); idx > max/2 {
		clipped = clipped[:idx]
	}
	return clipped
}
