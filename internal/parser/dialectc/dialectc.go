// Package dialectc implements the single-JSON-document assistant log
// dialect: one file holds an array of messages with per-message token
// counts and paired tool-call/tool-result entries; user prompts live in a
// separate sibling log file.
package dialectc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codemie-cli/agentwrap/internal/codemie"
	"github.com/codemie-cli/agentwrap/internal/parser"
	"github.com/codemie-cli/agentwrap/internal/parser/common"
)

var fileOps = common.FileOpTable{
	"readfile":   codemie.FileOpRead,
	"writefile":  codemie.FileOpWrite,
	"editfile":   codemie.FileOpEdit,
	"deletefile": codemie.FileOpDelete,
	"search":     codemie.FileOpGrep,
	"listfiles":  codemie.FileOpGlob,
}

// Dialect implements parser.Dialect for the single-document format.
type Dialect struct {
	SessionsDir string
}

var _ parser.Dialect = (*Dialect)(nil)

func New(sessionsDir string) *Dialect { return &Dialect{SessionsDir: sessionsDir} }

func (d *Dialect) GetDataPaths() parser.DataPaths {
	return parser.DataPaths{SessionsDir: d.SessionsDir, SessionTemplate: "{file}"}
}

func (d *Dialect) GetWatermarkStrategy() codemie.WatermarkStrategy { return codemie.WatermarkObject }

func (d *Dialect) GetInitDelay() time.Duration { return 800 * time.Millisecond }

func (d *Dialect) MatchesSessionPattern(path string, dateFilter *time.Time) bool {
	if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".prompts.json") {
		return false
	}
	if dateFilter == nil {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.ModTime().Before(*dateFilter)
}

func (d *Dialect) ExtractSessionID(path string) (string, error) {
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	if id == "" {
		return "", fmt.Errorf("dialectc: cannot extract session id from %q", path)
	}
	return id, nil
}

type rawDoc struct {
	Messages []rawMessage `json:"messages"`
}

type rawMessage struct {
	ID          string           `json:"id"`
	Role        string           `json:"role"`
	Model       string           `json:"model"`
	Timestamp   string           `json:"timestamp"`
	Branch      string           `json:"branch"`
	Tokens      *rawTokens       `json:"tokens"`
	ToolCalls   []rawToolCall    `json:"toolCalls"`
	ToolResults []rawToolResult  `json:"toolResults"`
}

type rawTokens struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheRead     int64 `json:"cacheRead"`
	CacheCreation int64 `json:"cacheCreation"`
}

type rawToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type rawToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error"`
}

func readDoc(path string) (*rawDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &rawDoc{}, nil
		}
		return nil, fmt.Errorf("dialectc: read %s: %w", path, err)
	}
	var doc rawDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dialectc: decode %s: %w", path, err)
	}
	return &doc, nil
}

// ParseFull reads the whole document and sums tokens and paired tool calls.
func (d *Dialect) ParseFull(path string) (*parser.FullTotals, error) {
	doc, err := readDoc(path)
	if err != nil {
		return nil, err
	}
	totals := &parser.FullTotals{ToolCalls: make(map[string]int)}
	pairing := common.NewToolCallPairing()
	for _, msg := range doc.Messages {
		if msg.Tokens != nil {
			totals.Tokens.Input += msg.Tokens.Input
			totals.Tokens.Output += msg.Tokens.Output
			totals.Tokens.CacheRead += msg.Tokens.CacheRead
			totals.Tokens.CacheCreation += msg.Tokens.CacheCreation
		}
		for _, tc := range msg.ToolCalls {
			pairing.Use(tc.ID, tc.Name, tc.Args, 0)
		}
		for _, tr := range msg.ToolResults {
			if call, ok := pairing.Result(tr.ToolCallID); ok {
				totals.ToolCalls[call.ToolName]++
			}
		}
	}
	return totals, nil
}

// ParseIncremental re-reads the document and the sibling prompt log and
// emits deltas for messages not already in processedRecordIDs.
func (d *Dialect) ParseIncremental(path string, processedRecordIDs, attachedPromptTexts map[string]bool) (*parser.IncrementalResult, error) {
	sessionID, err := d.ExtractSessionID(path)
	if err != nil {
		return nil, err
	}
	doc, err := readDoc(path)
	if err != nil {
		return nil, err
	}

	result := &parser.IncrementalResult{}
	prompts := common.NewUserPromptTracker(attachedPromptTexts)
	for _, text := range d.readPrompts(sessionID, nil, nil) {
		prompts.Observe(text.Text)
	}

	pairing := common.NewToolCallPairing()
	var currentModel string

	for i, msg := range doc.Messages {
		if msg.Model != "" {
			currentModel = msg.Model
		}
		for _, tc := range msg.ToolCalls {
			pairing.Use(tc.ID, tc.Name, tc.Args, 0)
		}

		recordID := common.RecordID(msg.ID, sessionID, parseTimestamp(msg.Timestamp), i)
		if processedRecordIDs[recordID] {
			for _, tr := range msg.ToolResults {
				pairing.Result(tr.ToolCallID)
			}
			continue
		}

		delta := codemie.MetricDelta{
			RecordID:       recordID,
			AgentSessionID: sessionID,
			Timestamp:      time.Now(),
			GitBranch:      msg.Branch,
			SyncStatus:     codemie.SyncPending,
		}
		if msg.Tokens != nil {
			delta.Tokens = codemie.Tokens{
				Input:         msg.Tokens.Input,
				Output:        msg.Tokens.Output,
				CacheRead:     msg.Tokens.CacheRead,
				CacheCreation: msg.Tokens.CacheCreation,
			}
		}
		if currentModel != "" {
			delta.Models = []string{currentModel}
		}

		hasContent := delta.Tokens.Input > 0 || delta.Tokens.Output > 0
		for _, tr := range msg.ToolResults {
			call, ok := pairing.Result(tr.ToolCallID)
			if !ok {
				continue
			}
			hasContent = true
			if delta.Tools == nil {
				delta.Tools = make(map[string]int)
				delta.ToolStatus = make(map[string]codemie.ToolStatusCount)
			}
			delta.Tools[call.ToolName]++
			status := delta.ToolStatus[call.ToolName]
			if tr.Success {
				status.Success++
			} else {
				status.Failure++
				delta.APIErrorMessage = tr.Error
			}
			delta.ToolStatus[call.ToolName] = status

			if op, ok := fileOps.Lookup(call.ToolName); ok {
				fo := codemie.FileOperation{Type: op}
				if p, ok := call.Input["path"].(string); ok {
					fo.Path = p
				}
				fo.LinesModified = common.CountLines(tr.Output)
				delta.FileOperations = append(delta.FileOperations, fo)
			}
		}

		if !hasContent {
			continue
		}
		if text, ok := prompts.AttachNext(); ok {
			delta.UserPrompts = []codemie.UserPrompt{{Count: 1, Text: text}}
		}
		result.Deltas = append(result.Deltas, delta)
	}

	result.NewlyAttachedPrompts = prompts.NewlyAttached(attachedPromptTexts)
	return result, nil
}

func parseTimestamp(ts string) int64 {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}

type rawPromptEntry struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func (d *Dialect) promptsPath(agentSessionID string) string {
	return filepath.Join(d.SessionsDir, agentSessionID+".prompts.json")
}

func (d *Dialect) readPrompts(agentSessionID string, fromTs, toTs *time.Time) []rawPromptEntry {
	data, err := os.ReadFile(d.promptsPath(agentSessionID))
	if err != nil {
		return nil
	}
	var entries []rawPromptEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	if fromTs == nil && toTs == nil {
		return entries
	}
	var filtered []rawPromptEntry
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err == nil {
			if fromTs != nil && ts.Before(*fromTs) {
				continue
			}
			if toTs != nil && ts.After(*toTs) {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// GetUserPrompts reads the sibling prompt log for agentSessionID.
func (d *Dialect) GetUserPrompts(agentSessionID string, fromTs, toTs *time.Time) ([]codemie.UserPrompt, error) {
	entries := d.readPrompts(agentSessionID, fromTs, toTs)
	counts := make(map[string]int)
	var order []string
	for _, e := range entries {
		if counts[e.Text] == 0 {
			order = append(order, e.Text)
		}
		counts[e.Text]++
	}
	prompts := make([]codemie.UserPrompt, 0, len(order))
	for _, text := range order {
		prompts = append(prompts, codemie.UserPrompt{Count: counts[text], Text: text})
	}
	return prompts, nil
}
