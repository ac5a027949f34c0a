// Package thinking compiles a model's free-form reasoning text into a
// structured task/tool view suitable for live rendering. The compiler is
// best-effort: it tolerates arbitrary, incomplete text and never fails.
package thinking

import (
	"fmt"
	"regexp"
	"strings"
)

// Status describes the overall state of a thinking view.
type Status string

const (
	StatusThinking Status = "thinking"
	// StatusProcessing is reserved for external composition once tool
	// results are known; the compiler never produces it.
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// ItemKind discriminates task item variants.
type ItemKind string

const (
	ItemText ItemKind = "text"
	ItemFile ItemKind = "file"
)

// Item is a single line of a task body.
type Item struct {
	Kind     ItemKind `json:"kind"`
	Text     string   `json:"text"`
	FileName string   `json:"fileName,omitempty"`
}

// Task is one extracted thinking step. Status is always "completed":
// a task is only surfaced once its heading is textually complete, and
// the compiler only ever sees a growing prefix of the text.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Items  []Item `json:"items"`
	Status string `json:"status"`
}

// ToolCall is an external-operation-like action mentioned in the text.
type ToolCall struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	State  string    `json:"state"`
	Input  ToolInput `json:"input"`
	Output string    `json:"output"`
}

// ToolInput carries the operation description for a tool call.
type ToolInput struct {
	Operation string `json:"operation"`
}

// View is the structured rendering model for one thinking trace.
type View struct {
	Status Status     `json:"status"`
	Tasks  []Task     `json:"tasks,omitempty"`
	Tools  []ToolCall `json:"tools,omitempty"`
}

// Extraction strategies, tried in priority order. Each matches a step
// heading; the step body is the text between successive headings.
var (
	// 1. **Bold lead-in**: free text
	boldStepRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*\*\*(.+?)\*\*:?[ \t]*`)
	// 1. Plain lead-in: free text
	plainStepRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*([^:\n]+):[ \t]*`)
	// 1. Bare numbered line
	bareStepRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*(.+)$`)

	fileNameRe = regexp.MustCompile(`([\w.-]+\.(?:json|tsx|ts|jsx|js|go|md|yml|yaml|toml|css|html|py|sh|sql|txt))`)
	bulletRe   = regexp.MustCompile(`^[-*•]\s*`)
)

// toolVerbs is the fixed vocabulary of action verbs scanned for tool
// calls. Tool IDs are derived from the slot index so output stays
// stable as more text arrives.
var toolVerbs = []struct {
	verb string
	kind string
}{
	{"checking", "file_check"},
	{"analyzing", "code_analysis"},
	{"reading", "file_read"},
	{"creating", "create_tool"},
	{"updating", "update_tool"},
	{"implementing", "implement_tool"},
}

const maxOperationLen = 100

// Compile turns the whole accumulated thinking text into a View. It is
// deterministic and idempotent: the same text and isFinal flag always
// produce an identical View. The caller recompiles the full buffer on
// every delta, so output must improve monotonically as text grows.
func Compile(fullText string, isFinal bool) View {
	status := StatusThinking
	if isFinal {
		status = StatusCompleted
	}

	view := View{Status: status}

	text := strings.TrimSpace(fullText)
	if text == "" {
		return view
	}

	view.Tasks = extractTasks(text)
	if len(view.Tasks) == 0 {
		// Unstructured text still gets a single fallback task so the
		// surface always has something to render.
		view.Tasks = []Task{{
			ID:     "task-1",
			Title:  "Thinking Process",
			Items:  []Item{{Kind: ItemText, Text: text}},
			Status: "completed",
		}}
	}

	view.Tools = extractTools(text)
	return view
}

// extractTasks runs the extraction strategies in priority order and
// returns tasks from the first strategy that matches at all.
func extractTasks(text string) []Task {
	for _, re := range []*regexp.Regexp{boldStepRe, plainStepRe, bareStepRe} {
		if tasks := matchSteps(re, text); len(tasks) > 0 {
			return tasks
		}
	}
	return nil
}

// matchSteps slices the text at each heading match: the body of step N
// runs from the end of heading N to the start of heading N+1 (or end
// of text for the last step).
func matchSteps(re *regexp.Regexp, text string) []Task {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	tasks := make([]Task, 0, len(locs))
	for i, loc := range locs {
		title := strings.TrimSpace(text[loc[2]:loc[3]])
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:bodyEnd])

		items := parseItems(body)
		if len(items) == 0 {
			fallback := body
			if fallback == "" {
				fallback = title
			}
			items = []Item{{Kind: ItemText, Text: fallback}}
		}

		tasks = append(tasks, Task{
			ID:     fmt.Sprintf("task-%d", i+1),
			Title:  title,
			Items:  items,
			Status: "completed",
		})
	}
	return tasks
}

// parseItems splits a step body into items, promoting lines that carry
// a recognizable filename to file items.
func parseItems(body string) []Item {
	if body == "" {
		return nil
	}

	var items []Item
	for _, line := range strings.Split(body, "\n") {
		clean := strings.TrimSpace(bulletRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if clean == "" {
			continue
		}
		if m := fileNameRe.FindString(clean); m != "" {
			text := strings.TrimSpace(strings.Replace(clean, m, "", 1))
			if text == "" {
				text = "Working with"
			}
			items = append(items, Item{Kind: ItemFile, Text: text, FileName: m})
			continue
		}
		items = append(items, Item{Kind: ItemText, Text: clean})
	}
	return items
}

// extractTools scans the text for action verbs. The scan is independent
// of task extraction and may overlap with it.
func extractTools(text string) []ToolCall {
	lower := strings.ToLower(text)
	lines := strings.Split(text, "\n")

	var tools []ToolCall
	for i, tv := range toolVerbs {
		if !strings.Contains(lower, tv.verb) {
			continue
		}
		op := firstLineContaining(lines, tv.verb)
		if len(op) > maxOperationLen {
			op = op[:maxOperationLen]
		}
		tools = append(tools, ToolCall{
			ID:     fmt.Sprintf("tool-%d", i+1),
			Kind:   tv.kind,
			State:  "output-available",
			Input:  ToolInput{Operation: op},
			Output: fmt.Sprintf("Completed %s operation successfully", tv.verb),
		})
	}
	return tools
}

func firstLineContaining(lines []string, verb string) string {
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), verb) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
