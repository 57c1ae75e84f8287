// Package taillog follows AI assistant log files and forwards each
// completed user/assistant exchange to the codewatch API.
package taillog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ihavespoons/codewatch/internal/event"
	"github.com/ihavespoons/codewatch/internal/logger"
)

var (
	timestampedLine = regexp.MustCompile(`^\[([\d\-: ]+)\] (USER|ASSISTANT): (.*)$`)
	bareLine        = regexp.MustCompile(`^(USER|ASSISTANT): (.*)$`)
	codeFence       = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)\\n```")

	fileRefPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:in |file |update |modify |edit |create |delete )([\w/.-]+\.\w+)`),
		regexp.MustCompile("`([^`]+\\.\\w+)`"),
		regexp.MustCompile(`"([^"]+\.\w+)"`),
		regexp.MustCompile(`'([^']+\.\w+)'`),
	}
)

type message struct {
	role      string
	timestamp time.Time
	content   string
}

// Tailer follows one assistant's log and reports conversations.
type Tailer struct {
	provider  string
	apiURL    string
	sessionID string
	client    *http.Client
}

// New creates a tailer reporting to the given API base URL
func New(provider, apiURL string) *Tailer {
	if apiURL == "" {
		apiURL = "http://localhost:4381"
	}
	return &Tailer{
		provider:  provider,
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		sessionID: time.Now().Format("20060102-150405"),
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

// FollowDir tails the most recently modified *.log file in dir.
func (t *Tailer) FollowDir(ctx context.Context, dir string, follow bool) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(matches) == 0 {
		return fmt.Errorf("no log files found in %s", dir)
	}

	sort.Slice(matches, func(i, j int) bool {
		mi, _ := os.Stat(matches[i])
		mj, _ := os.Stat(matches[j])
		if mi == nil || mj == nil {
			return false
		}
		return mi.ModTime().After(mj.ModTime())
	})

	logger.Info().Str("file", matches[0]).Msg("Tailing latest log file")
	return t.FollowFile(ctx, matches[0], follow)
}

// FollowFile tails one log file. With follow set it keeps polling for
// new lines until ctx is cancelled; otherwise it stops at EOF.
func (t *Tailer) FollowFile(ctx context.Context, path string, follow bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	logger.Info().
		Str("provider", t.provider).
		Str("file", path).
		Msg("Monitoring AI assistant log")

	reader := bufio.NewReader(f)
	var pendingUser *message

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			if line == "" {
				if !follow {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
				}
				continue
			}
			// partial line at EOF; process what we have
		} else if err != nil {
			return fmt.Errorf("failed to read log file: %w", err)
		}

		msg := parseLine(strings.TrimRight(line, "\r\n"))
		if msg == nil {
			continue
		}

		switch msg.role {
		case "user":
			pendingUser = msg
		case "assistant":
			if pendingUser != nil {
				t.report(pendingUser, msg)
				pendingUser = nil
			}
		}
	}
}

// parseLine recognizes USER/ASSISTANT lines with or without a leading
// timestamp. Unrecognized lines return nil.
func parseLine(line string) *message {
	if m := timestampedLine.FindStringSubmatch(line); m != nil {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(m[1]), time.Local)
		if err != nil {
			ts = time.Now()
		}
		return &message{
			role:      strings.ToLower(m[2]),
			timestamp: ts,
			content:   strings.TrimSpace(m[3]),
		}
	}
	if m := bareLine.FindStringSubmatch(line); m != nil {
		return &message{
			role:      strings.ToLower(m[1]),
			timestamp: time.Now(),
			content:   strings.TrimSpace(m[2]),
		}
	}
	return nil
}

// ExtractCodeSnippets pulls fenced code blocks out of text.
func ExtractCodeSnippets(text string) []event.CodeSnippet {
	var snippets []event.CodeSnippet
	for _, m := range codeFence.FindAllStringSubmatch(text, -1) {
		language := m[1]
		if language == "" {
			language = "unknown"
		}
		code := m[2]
		snippets = append(snippets, event.CodeSnippet{
			Language: language,
			Code:     code,
			Lines:    len(strings.Split(code, "\n")),
		})
	}
	return snippets
}

// ExtractFileReferences pulls file paths mentioned in text, dropping
// URLs and implausibly long matches.
func ExtractFileReferences(text string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range fileRefPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			ref := m[1]
			if strings.HasPrefix(ref, "http") || len(ref) >= 200 {
				continue
			}
			seen[ref] = struct{}{}
		}
	}

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

type conversationPayload struct {
	SessionID    string              `json:"session_id"`
	Provider     string              `json:"ai_provider"`
	Model        string              `json:"ai_model"`
	Timestamp    string              `json:"timestamp"`
	UserPrompt   string              `json:"user_prompt"`
	AIResponse   string              `json:"ai_response"`
	ContextFiles []string            `json:"context_files"`
	CodeSnippets []event.CodeSnippet `json:"code_snippets"`
	Metadata     map[string]any      `json:"metadata"`
}

func (t *Tailer) report(user, assistant *message) {
	snippets := ExtractCodeSnippets(assistant.content)
	files := ExtractFileReferences(user.content + " " + assistant.content)

	payload := conversationPayload{
		SessionID:    t.sessionID,
		Provider:     t.provider,
		Model:        t.provider + "-model",
		Timestamp:    user.timestamp.UTC().Format(time.RFC3339),
		UserPrompt:   user.content,
		AIResponse:   assistant.content,
		ContextFiles: files,
		CodeSnippets: snippets,
		Metadata: map[string]any{
			"code_blocks":     len(snippets),
			"mentioned_files": len(files),
			"response_length": len(assistant.content),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode conversation")
		return
	}

	resp, err := t.client.Post(t.apiURL+"/ai-chat", "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Error().Err(err).Str("url", t.apiURL).Msg("Failed to reach codewatch API")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		logger.Error().Int("status", resp.StatusCode).Msg("API rejected conversation")
		return
	}
	logger.Info().
		Str("prompt", truncate(user.content, 100)).
		Int("files", len(files)).
		Msg("Logged conversation")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
