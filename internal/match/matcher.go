// Package match correlates captured AI conversations with the code
// changes they likely produced, using an LLM judge.
package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ihavespoons/codewatch/internal/config"
	"github.com/ihavespoons/codewatch/internal/digest"
	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/llm"
	"github.com/ihavespoons/codewatch/internal/logger"
	"github.com/ihavespoons/codewatch/internal/store"
)

const (
	promptCharLimit = 500
	diffCharLimit   = 300
)

const judgeSystemPrompt = `You correlate AI assistant conversations with code changes. ` +
	`Given a conversation and a list of candidate code-change events that happened shortly after it, ` +
	`judge for each candidate how likely the conversation produced that change. ` +
	`Use match_type "direct" when the diff implements what the conversation describes, ` +
	`"partial" when only part of it appears, and "inspired" when the change is clearly ` +
	`influenced but not dictated by the conversation. Only include candidates with real evidence.`

// Judge is the single capability the matcher needs from an LLM.
type Judge interface {
	Judge(ctx context.Context, system, prompt string) (*llm.JudgmentList, error)
}

// Matcher runs conversation-to-change matching on demand.
type Matcher struct {
	store          store.Store
	judge          Judge
	window         time.Duration
	minConfidence  float64
	candidateLimit int
}

// New creates a matcher with the configured window and threshold.
func New(s store.Store, judge Judge, cfg config.MatchSettings) *Matcher {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = 2 * time.Hour
	}
	minConfidence := cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.6
	}
	candidateLimit := cfg.CandidateLimit
	if candidateLimit <= 0 {
		candidateLimit = 50
	}
	return &Matcher{
		store:          s,
		judge:          judge,
		window:         window,
		minConfidence:  minConfidence,
		candidateLimit: candidateLimit,
	}
}

// Match judges the conversation against file changes inside its
// matching window and persists the accepted matches, fully replacing
// any prior set. Returns the number of accepted matches.
func (m *Matcher) Match(ctx context.Context, conversationID int64) (int, error) {
	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		return 0, err
	}

	candidates, err := m.store.QueryRange(store.RangeQuery{
		Since:     conv.Timestamp,
		Until:     conv.Timestamp.Add(m.window),
		Kinds:     []event.Kind{event.KindFileChange},
		ProjectID: conv.ProjectID,
		Limit:     m.candidateLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load candidate events: %w", err)
	}
	if len(candidates) == 0 {
		logger.Debug().
			Int64("conversation_id", conversationID).
			Msg("No candidate changes in matching window")
		return 0, nil
	}

	judgments, err := m.judge.Judge(ctx, judgeSystemPrompt, m.buildPrompt(conv, candidates))
	if err != nil {
		return 0, fmt.Errorf("match judgment failed: %w", err)
	}

	byID := make(map[int64]*event.Event, len(candidates))
	for _, ev := range candidates {
		byID[ev.ID] = ev
	}

	var matches []*event.Match
	for _, j := range judgments.Matches {
		candidate, ok := byID[j.EventID]
		if !ok {
			// the judge may hallucinate ids outside the candidate set
			continue
		}
		if j.Confidence < m.minConfidence {
			continue
		}
		matches = append(matches, &event.Match{
			ConversationID: conversationID,
			EventID:        j.EventID,
			Confidence:     j.Confidence,
			Reasoning:      j.Reasoning,
			MatchType:      j.MatchType,
			TimeDelta:      int64(candidate.Timestamp.Sub(conv.Timestamp).Seconds()),
		})
	}

	if err := m.store.ReplaceMatches(conversationID, matches); err != nil {
		return 0, err
	}

	logger.Info().
		Int64("conversation_id", conversationID).
		Int("candidates", len(candidates)).
		Int("matched", len(matches)).
		Msg("Matched conversation against code changes")
	return len(matches), nil
}

func (m *Matcher) buildPrompt(conv *event.Conversation, candidates []*event.Event) string {
	var sb strings.Builder

	sb.WriteString("Conversation at " + event.FormatTS(conv.Timestamp) + ":\n")
	sb.WriteString("USER: " + digest.Trim(conv.UserPrompt, promptCharLimit) + "\n")
	sb.WriteString("ASSISTANT: " + digest.Trim(conv.AIResponse, promptCharLimit) + "\n\n")
	sb.WriteString("Candidate code changes:\n")

	for _, ev := range candidates {
		diff := event.PayloadString(ev.Payload, "diff")
		sb.WriteString(fmt.Sprintf("[Event %d] %s at %s\n%s\n\n",
			ev.ID, ev.Path, event.FormatTS(ev.Timestamp), digest.Trim(diff, diffCharLimit)))
	}

	sb.WriteString(fmt.Sprintf(
		"Return JSON {\"matches\":[{\"event_id\",\"confidence\",\"reasoning\",\"match_type\"}]} "+
			"listing only candidates with confidence of at least %.1f.\n", m.minConfidence))
	return sb.String()
}
