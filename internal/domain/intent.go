package domain

// IntentKind is the closed set of conversational intents.
type IntentKind string

const (
	IntentCreateTask   IntentKind = "create_task"
	IntentViewTasks    IntentKind = "view_tasks"
	IntentCompleteTask IntentKind = "complete_task"
	IntentEditTask     IntentKind = "edit_task"
	IntentAddContext   IntentKind = "add_context"
	IntentHelp         IntentKind = "help"
	IntentGreeting     IntentKind = "greeting"
)

// IntentKinds lists every kind in prompt order.
var IntentKinds = []IntentKind{
	IntentCreateTask, IntentViewTasks, IntentCompleteTask, IntentEditTask,
	IntentAddContext, IntentHelp, IntentGreeting,
}

// Valid reports whether k is one of the known kinds.
func (k IntentKind) Valid() bool {
	for _, known := range IntentKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IntentSource tells whether an intent came from the model or the fallback.
type IntentSource string

const (
	SourceModel    IntentSource = "model"
	SourceFallback IntentSource = "fallback"
	SourceMenu     IntentSource = "menu"
)

// Intent is the typed result of classification.
type Intent struct {
	Kind         IntentKind        `json:"intent"`
	Confidence   float64           `json:"confidence"`
	NeedsContext bool              `json:"needsContext"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	TaskData     *TaskData         `json:"taskData,omitempty"`
	Source       IntentSource      `json:"-"`
}

// Param returns a parameter value or "".
func (i Intent) Param(key string) string {
	if i.Parameters == nil {
		return ""
	}
	return i.Parameters[key]
}

// TaskData carries the fields extracted for create_task.
type TaskData struct {
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category,omitempty"`
	ContextName      string `json:"contextName,omitempty"`
	DueDate          string `json:"dueDate,omitempty"` // YYYY-MM-DD
	DueTime          string `json:"dueTime,omitempty"` // HH:MM
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
}

// Edit fields accepted by edit_task.
const (
	EditTitle       = "title"
	EditDescription = "description"
	EditDueDate     = "dueDate"
	EditContext     = "context"
	EditCategory    = "category"
)
