package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gtdbot/internal/domain"
)

var errNoJSON = errors.New("no JSON object in model output")

// extractJSON returns the first top-level JSON object in content, tolerating
// markdown fences and prose around it.
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	if json.Valid([]byte(content)) && strings.HasPrefix(content, "{") {
		return content, nil
	}

	start, end := findJSONBounds(content)
	if start < 0 {
		return "", errNoJSON
	}
	return content[start:end], nil
}

// findJSONBounds locates the first balanced {...} in s, skipping braces
// inside strings. Returns (-1, -1) when there is none.
func findJSONBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

// looseString decodes any JSON scalar into its string form.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = looseString(x)
	case float64:
		*s = looseString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(x))
	default:
		*s = looseString(b)
	}
	return nil
}

// looseInt accepts 5, 5.0 and "5".
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	var s looseString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = looseInt(f)
	return nil
}

type wireIntent struct {
	Intent       string                 `json:"intent"`
	Confidence   float64                `json:"confidence"`
	NeedsContext bool                   `json:"needsContext"`
	Parameters   map[string]looseString `json:"parameters"`
	TaskData     *wireTaskData          `json:"taskData"`
}

type wireTaskData struct {
	Title            looseString `json:"title"`
	Description      looseString `json:"description"`
	Category         looseString `json:"category"`
	ContextName      looseString `json:"contextName"`
	DueDate          looseString `json:"dueDate"`
	DueTime          looseString `json:"dueTime"`
	EstimatedMinutes looseInt    `json:"estimatedMinutes"`
}

// parseIntent decodes model output into an Intent. Unknown kinds are an
// error so the caller falls back.
func parseIntent(content string) (domain.Intent, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return domain.Intent{}, err
	}

	var w wireIntent
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return domain.Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	kind := domain.IntentKind(strings.ToLower(strings.TrimSpace(w.Intent)))
	if !kind.Valid() {
		return domain.Intent{}, fmt.Errorf("unknown intent %q", w.Intent)
	}

	in := domain.Intent{
		Kind:         kind,
		Confidence:   w.Confidence,
		NeedsContext: w.NeedsContext,
		Source:       domain.SourceModel,
	}
	if len(w.Parameters) > 0 {
		in.Parameters = make(map[string]string, len(w.Parameters))
		for k, v := range w.Parameters {
			if s := strings.TrimSpace(string(v)); s != "" {
				in.Parameters[k] = s
			}
		}
	}
	if w.TaskData != nil {
		in.TaskData = &domain.TaskData{
			Title:            strings.TrimSpace(string(w.TaskData.Title)),
			Description:      strings.TrimSpace(string(w.TaskData.Description)),
			Category:         strings.TrimSpace(string(w.TaskData.Category)),
			ContextName:      strings.TrimSpace(string(w.TaskData.ContextName)),
			DueDate:          strings.TrimSpace(string(w.TaskData.DueDate)),
			DueTime:          strings.TrimSpace(string(w.TaskData.DueTime)),
			EstimatedMinutes: int(w.TaskData.EstimatedMinutes),
		}
	}
	return in, nil
}
