// Package dialecta implements the hash-watermarked, multi-file
// "sidechain"-aware assistant log dialect: one JSON-lines file per
// (sub-)session, each line an event carrying a role, optional token usage,
// and optional tool-use/tool-result content blocks.
package dialecta

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
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
	"read":      codemie.FileOpRead,
	"write":     codemie.FileOpWrite,
	"edit":      codemie.FileOpEdit,
	"multiedit": codemie.FileOpEdit,
	"delete":    codemie.FileOpDelete,
	"grep":      codemie.FileOpGrep,
	"glob":      codemie.FileOpGlob,
}

// Dialect implements parser.Dialect for the hash-watermarked format.
type Dialect struct {
	SessionsDir string
}

var _ parser.Dialect = (*Dialect)(nil)

// New constructs a Dialect rooted at sessionsDir.
func New(sessionsDir string) *Dialect {
	return &Dialect{SessionsDir: sessionsDir}
}

func (d *Dialect) GetDataPaths() parser.DataPaths {
	return parser.DataPaths{SessionsDir: d.SessionsDir, SessionTemplate: "{file}"}
}

func (d *Dialect) GetWatermarkStrategy() codemie.WatermarkStrategy { return codemie.WatermarkHash }

func (d *Dialect) GetInitDelay() time.Duration { return 1500 * time.Millisecond }

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
		return "", fmt.Errorf("dialecta: cannot extract session id from %q", path)
	}
	return id, nil
}

type rawEvent struct {
	UUID      string      `json:"uuid"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	CWD       string      `json:"cwd"`
	GitBranch string      `json:"gitBranch"`
	SessionID string      `json:"sessionId"`
	Message   *rawMessage `json:"message"`
}

type rawMessage struct {
	Role    string            `json:"role"`
	Model   string            `json:"model"`
	Content []rawContentBlock `json:"content"`
	Usage   *rawUsage         `json:"usage"`
}

type rawContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content"`
	IsError   bool   `json:"is_error"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func lineHash(line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

func contentText(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if t, ok := m["text"].(string); ok {
					sb.WriteString(t)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

// ParseFull scans the whole file (plus sidechains) and returns cumulative
// totals, used only for delta-sum identity verification.
func (d *Dialect) ParseFull(path string) (*parser.FullTotals, error) {
	totals := &parser.FullTotals{ToolCalls: make(map[string]int)}
	files, err := d.sidechainFiles(path)
	if err != nil {
		return nil, err
	}
	pairing := common.NewToolCallPairing()
	for _, f := range files {
		if err := d.accumulate(f, totals, pairing); err != nil {
			return nil, err
		}
	}
	return totals, nil
}

func (d *Dialect) accumulate(path string, totals *parser.FullTotals, pairing *common.ToolCallPairing) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("dialecta: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Message == nil {
			continue
		}
		if ev.Message.Usage != nil {
			totals.Tokens.Input += ev.Message.Usage.InputTokens
			totals.Tokens.Output += ev.Message.Usage.OutputTokens
			totals.Tokens.CacheRead += ev.Message.Usage.CacheReadInputTokens
			totals.Tokens.CacheCreation += ev.Message.Usage.CacheCreationInputTokens
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "tool_use":
				pairing.Use(block.ID, block.Name, nil, 0)
			case "tool_result":
				if call, ok := pairing.Result(block.ToolUseID); ok {
					totals.ToolCalls[call.ToolName]++
				}
			}
		}
	}
	return scanner.Err()
}

// sidechainFiles returns path plus every sibling .jsonl file in the same
// directory whose first record shares path's agent session id.
func (d *Dialect) sidechainFiles(path string) ([]string, error) {
	sessionID, err := d.ExtractSessionID(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{path}, nil
	}
	files := []string{path}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		if candidate == path || filepath.Ext(candidate) != ".jsonl" {
			continue
		}
		firstSessionID, ok := firstRecordSessionID(candidate)
		if ok && firstSessionID == sessionID {
			files = append(files, candidate)
		}
	}
	return files, nil
}

func firstRecordSessionID(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return "", false
		}
		return ev.SessionID, ev.SessionID != ""
	}
	return "", false
}

// ParseIncremental re-reads the main file and any sidechains from the start,
// skipping records whose id is in processedRecordIDs and building deltas for
// the rest. LastHash is the hash of the last non-empty line read.
func (d *Dialect) ParseIncremental(path string, processedRecordIDs, attachedPromptTexts map[string]bool) (*parser.IncrementalResult, error) {
	files, err := d.sidechainFiles(path)
	if err != nil {
		return nil, err
	}

	result := &parser.IncrementalResult{}
	prompts := common.NewUserPromptTracker(attachedPromptTexts)
	pairing := common.NewToolCallPairing()
	var lastHash string
	var currentModel string
	ordinal := 0

	sessionID, _ := d.ExtractSessionID(path)

	for _, fp := range files {
		f, err := os.Open(fp)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("dialecta: open %s: %w", fp, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			lastHash = lineHash(line)

			var ev rawEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue // malformed record: skip, log at debug upstream
			}

			recordID := common.RecordID(ev.UUID, sessionID, parseTimestamp(ev.Timestamp), ordinal)
			ordinal++
			// Register tool_use blocks even for already-processed records so
			// a tool_result that arrives in a later pass still pairs.
			if ev.Message != nil {
				for _, block := range ev.Message.Content {
					if block.Type == "tool_use" {
						pairing.Use(block.ID, block.Name, nil, 0)
					}
				}
			}
			if processedRecordIDs[recordID] {
				continue
			}

			if ev.Message == nil {
				continue
			}
			if ev.Message.Model != "" {
				currentModel = ev.Message.Model
			}

			switch ev.Message.Role {
			case "user":
				for _, block := range ev.Message.Content {
					if block.Type == "text" && block.Text != "" {
						prompts.Observe(block.Text)
					}
				}
				continue
			}

			delta := codemie.MetricDelta{
				RecordID:   recordID,
				AgentSessionID: sessionID,
				Timestamp:  time.Now(),
				GitBranch:  ev.GitBranch,
				SyncStatus: codemie.SyncPending,
			}
			if ev.Message.Usage != nil {
				delta.Tokens = codemie.Tokens{
					Input:         ev.Message.Usage.InputTokens,
					Output:        ev.Message.Usage.OutputTokens,
					CacheRead:     ev.Message.Usage.CacheReadInputTokens,
					CacheCreation: ev.Message.Usage.CacheCreationInputTokens,
				}
			}
			if currentModel != "" {
				delta.Models = []string{currentModel}
			}

			hasContent := false
			for _, block := range ev.Message.Content {
				switch block.Type {
				case "tool_result":
					call, ok := pairing.Result(block.ToolUseID)
					if !ok {
						continue
					}
					hasContent = true
					if delta.Tools == nil {
						delta.Tools = make(map[string]int)
					}
					delta.Tools[call.ToolName]++
					if delta.ToolStatus == nil {
						delta.ToolStatus = make(map[string]codemie.ToolStatusCount)
					}
					status := delta.ToolStatus[call.ToolName]
					if block.IsError {
						status.Failure++
						delta.APIErrorMessage = contentText(block.Content)
					} else {
						status.Success++
					}
					delta.ToolStatus[call.ToolName] = status

					if op, ok := fileOps.Lookup(call.ToolName); ok {
						fo := codemie.FileOperation{Type: op}
						if p, ok := call.Input["file_path"].(string); ok {
							fo.Path = p
						}
						fo.LinesModified = common.CountLines(contentText(block.Content))
						delta.FileOperations = append(delta.FileOperations, fo)
					}
				}
			}

			if delta.Tokens.Input > 0 || delta.Tokens.Output > 0 {
				hasContent = true
			}
			if !hasContent {
				continue
			}

			if text, ok := prompts.AttachNext(); ok {
				delta.UserPrompts = []codemie.UserPrompt{{Count: 1, Text: text}}
			}

			result.Deltas = append(result.Deltas, delta)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("dialecta: scan %s: %w", fp, err)
		}
	}

	result.LastHash = lastHash
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

// GetUserPrompts scans the session file (and sidechains) for user-turn text
// blocks within the optional [fromTs, toTs] window.
func (d *Dialect) GetUserPrompts(agentSessionID string, fromTs, toTs *time.Time) ([]codemie.UserPrompt, error) {
	path := filepath.Join(d.SessionsDir, agentSessionID+".jsonl")
	files, err := d.sidechainFiles(path)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	var order []string
	for _, fp := range files {
		f, err := os.Open(fp)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			var ev rawEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Message == nil {
				continue
			}
			if ev.Message.Role != "user" {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
			if err == nil {
				if fromTs != nil && ts.Before(*fromTs) {
					continue
				}
				if toTs != nil && ts.After(*toTs) {
					continue
				}
			}
			for _, block := range ev.Message.Content {
				if block.Type == "text" && block.Text != "" {
					if counts[block.Text] == 0 {
						order = append(order, block.Text)
					}
					counts[block.Text]++
				}
			}
		}
		f.Close()
	}
	prompts := make([]codemie.UserPrompt, 0, len(order))
	for _, text := range order {
		prompts = append(prompts, codemie.UserPrompt{Count: counts[text], Text: text})
	}
	return prompts, nil
}
