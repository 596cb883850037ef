package domain

import (
	"strings"
	"time"
)

// Category is a GTD bucket.
type Category string

const (
	CategoryInbox      Category = "inbox"
	CategoryNextAction Category = "next_action"
	CategoryMultiStep  Category = "multi_step"
	CategoryWaiting    Category = "waiting"
	CategorySomeday    Category = "someday"
)

// Categories lists every valid category.
var Categories = []Category{CategoryInbox, CategoryNextAction, CategoryMultiStep, CategoryWaiting, CategorySomeday}

var categoryAliases = map[string]Category{
	"inbox":        CategoryInbox,
	"entrada":      CategoryInbox,
	"nextaction":   CategoryNextAction,
	"next_action":  CategoryNextAction,
	"next":         CategoryNextAction,
	"proxima":      CategoryNextAction,
	"próxima":      CategoryNextAction,
	"multistep":    CategoryMultiStep,
	"multi_step":   CategoryMultiStep,
	"proyecto":     CategoryMultiStep,
	"waiting":      CategoryWaiting,
	"waitingfor":   CategoryWaiting,
	"espera":       CategoryWaiting,
	"someday":      CategorySomeday,
	"somedaymaybe": CategorySomeday,
	"algun_dia":    CategorySomeday,
	"algún_día":    CategorySomeday,
}

// ParseCategory accepts the canonical values, the CamelCase names used in
// prompts and a few Spanish aliases. ok is false for anything else.
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_", "/", "").Replace(key)
	if c, ok := categoryAliases[key]; ok {
		return c, true
	}
	if c, ok := categoryAliases[strings.ReplaceAll(key, "_", "")]; ok {
		return c, true
	}
	return "", false
}

// Label is the user-facing name of the category.
func (c Category) Label() string {
	switch c {
	case CategoryInbox:
		return "Bandeja de entrada"
	case CategoryNextAction:
		return "Próxima acción"
	case CategoryMultiStep:
		return "Proyecto (varios pasos)"
	case CategoryWaiting:
		return "En espera"
	case CategorySomeday:
		return "Algún día"
	}
	return string(c)
}

// Task is the subset of the task-store entity the pipeline reads and writes.
type Task struct {
	ID               string
	UserID           string
	Title            string
	Description      string
	Category         Category
	ContextID        string
	DueDate          *time.Time
	EstimatedMinutes int
	Completed        bool
	IsQuickAction    bool
	SourceEventID    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Context is a named situational tag (e.g. "home", "phone").
type Context struct {
	ID     string
	UserID string
	Name   string
}

// TaskFilter selects tasks for view_tasks.
type TaskFilter string

const (
	FilterInbox      TaskFilter = "inbox"
	FilterToday      TaskFilter = "today"
	FilterNextAction TaskFilter = "next_action"
)

// TaskPatch updates at most the non-nil fields of a task.
type TaskPatch struct {
	Title       *string
	Description *string
	Category    *Category
	ContextID   *string
	DueDate     *time.Time
	Completed   *bool
}
