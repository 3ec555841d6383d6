// Package dialectb implements the line-appended JSON-per-line assistant log
// dialect: session files live under a date-partitioned directory hierarchy
// and each line reports cumulative token totals rather than per-event
// increments.
package dialectb

import (
	"bufio"
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
	"read_file":   codemie.FileOpRead,
	"write_file":  codemie.FileOpWrite,
	"edit_file":   codemie.FileOpEdit,
	"delete_file": codemie.FileOpDelete,
	"grep":        codemie.FileOpGrep,
	"glob":        codemie.FileOpGlob,
}

// Dialect implements parser.Dialect for the line-appended, date-partitioned
// cumulative-totals format.
type Dialect struct {
	SessionsDir string
}

var _ parser.Dialect = (*Dialect)(nil)

func New(sessionsDir string) *Dialect { return &Dialect{SessionsDir: sessionsDir} }

func (d *Dialect) GetDataPaths() parser.DataPaths {
	return parser.DataPaths{SessionsDir: d.SessionsDir, SessionTemplate: "{date}/{file}"}
}

func (d *Dialect) GetWatermarkStrategy() codemie.WatermarkStrategy { return codemie.WatermarkLine }

func (d *Dialect) GetInitDelay() time.Duration { return 1000 * time.Millisecond }

func (d *Dialect) MatchesSessionPattern(path string, dateFilter *time.Time) bool {
	if filepath.Ext(path) != ".jsonl" {
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
		return "", fmt.Errorf("dialectb: cannot extract session id from %q", path)
	}
	return id, nil
}

type rawRecord struct {
	Type                  string  `json:"type"`
	Timestamp             string  `json:"ts"`
	SessionID             string  `json:"session_id"`
	Branch                string  `json:"branch"`
	Model                 string  `json:"model"`
	CumulativeInputTokens int64   `json:"cumulative_input_tokens"`
	CumulativeOutputTokens int64  `json:"cumulative_output_tokens"`
	CumulativeCacheRead   int64   `json:"cumulative_cache_read_tokens"`
	CumulativeCacheCreate int64   `json:"cumulative_cache_creation_tokens"`
	ToolName              string  `json:"tool_name"`
	ToolSuccess           *bool   `json:"tool_success"`
	FilePath              string  `json:"file_path"`
	LinesAdded            int     `json:"lines_added"`
	LinesRemoved          int     `json:"lines_removed"`
	PromptText            string  `json:"prompt_text"`
	ErrorMessage          string  `json:"error_message"`
}

// ParseFull scans the whole file and returns cumulative totals from the
// final usage record plus total tool-call counts.
func (d *Dialect) ParseFull(path string) (*parser.FullTotals, error) {
	totals := &parser.FullTotals{ToolCalls: make(map[string]int)}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return totals, nil
		}
		return nil, fmt.Errorf("dialectb: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var rec rawRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case "usage":
			totals.Tokens.Input = rec.CumulativeInputTokens
			totals.Tokens.Output = rec.CumulativeOutputTokens
			totals.Tokens.CacheRead = rec.CumulativeCacheRead
			totals.Tokens.CacheCreation = rec.CumulativeCacheCreate
		case "tool_call":
			if rec.ToolSuccess != nil {
				totals.ToolCalls[rec.ToolName]++
			}
		}
	}
	return totals, scanner.Err()
}

// ParseIncremental rescans the full file (cumulative records require
// replay to reconstruct the running baseline) but only emits deltas for
// lines whose synthesized recordId is not already in processedRecordIDs.
func (d *Dialect) ParseIncremental(path string, processedRecordIDs, attachedPromptTexts map[string]bool) (*parser.IncrementalResult, error) {
	sessionID, err := d.ExtractSessionID(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &parser.IncrementalResult{}, nil
		}
		return nil, fmt.Errorf("dialectb: open %s: %w", path, err)
	}
	defer f.Close()

	result := &parser.IncrementalResult{}
	prompts := common.NewUserPromptTracker(attachedPromptTexts)

	var prevTokens codemie.Tokens
	var currentModel string
	lineNo := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // malformed record: skipped at debug level upstream
		}
		recordID := common.RecordID("", sessionID, parseTimestamp(rec.Timestamp), lineNo)

		if rec.Model != "" {
			currentModel = rec.Model
		}

		switch rec.Type {
		case "user_prompt":
			if rec.PromptText != "" {
				prompts.Observe(rec.PromptText)
			}
			continue
		case "usage":
			current := codemie.Tokens{
				Input:         rec.CumulativeInputTokens,
				Output:        rec.CumulativeOutputTokens,
				CacheRead:     rec.CumulativeCacheRead,
				CacheCreation: rec.CumulativeCacheCreate,
			}
			if processedRecordIDs[recordID] {
				prevTokens = current
				continue
			}
			delta := codemie.MetricDelta{
				RecordID:       recordID,
				AgentSessionID: sessionID,
				Timestamp:      time.Now(),
				GitBranch:      rec.Branch,
				SyncStatus:     codemie.SyncPending,
				Tokens: codemie.Tokens{
					Input:         common.CumulativeDelta(current.Input, prevTokens.Input),
					Output:        common.CumulativeDelta(current.Output, prevTokens.Output),
					CacheRead:     common.CumulativeDelta(current.CacheRead, prevTokens.CacheRead),
					CacheCreation: common.CumulativeDelta(current.CacheCreation, prevTokens.CacheCreation),
				},
			}
			prevTokens = current
			if currentModel != "" {
				delta.Models = []string{currentModel}
			}
			if text, ok := prompts.AttachNext(); ok {
				delta.UserPrompts = []codemie.UserPrompt{{Count: 1, Text: text}}
			}
			result.Deltas = append(result.Deltas, delta)

		case "tool_call":
			if processedRecordIDs[recordID] {
				continue
			}
			if rec.ToolSuccess == nil {
				continue // result not yet recorded; reconsidered next pass
			}
			delta := codemie.MetricDelta{
				RecordID:       recordID,
				AgentSessionID: sessionID,
				Timestamp:      time.Now(),
				GitBranch:      rec.Branch,
				SyncStatus:     codemie.SyncPending,
				Tools:          map[string]int{rec.ToolName: 1},
				ToolStatus:     map[string]codemie.ToolStatusCount{},
			}
			status := codemie.ToolStatusCount{}
			if *rec.ToolSuccess {
				status.Success = 1
			} else {
				status.Failure = 1
				delta.APIErrorMessage = rec.ErrorMessage
			}
			delta.ToolStatus[rec.ToolName] = status
			if op, ok := fileOps.Lookup(rec.ToolName); ok {
				delta.FileOperations = []codemie.FileOperation{{
					Type:         op,
					Path:         rec.FilePath,
					LinesAdded:   rec.LinesAdded,
					LinesRemoved: rec.LinesRemoved,
				}}
			}
			if currentModel != "" {
				delta.Models = []string{currentModel}
			}
			if text, ok := prompts.AttachNext(); ok {
				delta.UserPrompts = []codemie.UserPrompt{{Count: 1, Text: text}}
			}
			result.Deltas = append(result.Deltas, delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dialectb: scan %s: %w", path, err)
	}

	result.LastLine = lineNo
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

// GetUserPrompts scans the file for user_prompt records in [fromTs, toTs].
func (d *Dialect) GetUserPrompts(agentSessionID string, fromTs, toTs *time.Time) ([]codemie.UserPrompt, error) {
	path, err := d.locate(agentSessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	counts := make(map[string]int)
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var rec rawRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.Type != "user_prompt" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		if err == nil {
			if fromTs != nil && ts.Before(*fromTs) {
				continue
			}
			if toTs != nil && ts.After(*toTs) {
				continue
			}
		}
		if counts[rec.PromptText] == 0 {
			order = append(order, rec.PromptText)
		}
		counts[rec.PromptText]++
	}
	prompts := make([]codemie.UserPrompt, 0, len(order))
	for _, text := range order {
		prompts = append(prompts, codemie.UserPrompt{Count: counts[text], Text: text})
	}
	return prompts, nil
}

// locate walks the date-partitioned hierarchy under SessionsDir to find the
// file for agentSessionID.
func (d *Dialect) locate(agentSessionID string) (string, error) {
	var found string
	err := filepath.Walk(d.SessionsDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil || fi.IsDir() {
			return nil
		}
		if strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) == agentSessionID {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("dialectb: locate %s: %w", agentSessionID, err)
	}
	if found == "" {
		return "", fmt.Errorf("dialectb: no session file for %s", agentSessionID)
	}
	return found, nil
}
