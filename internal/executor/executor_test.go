package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/conversation"
	"gtdbot/internal/domain"
	"gtdbot/internal/store"
)

var loc = time.FixedZone("ART", -3*3600)

// Tuesday 10 March 2026, 10:00 local.
var now = time.Date(2026, 3, 10, 10, 0, 0, 0, loc)

type harness struct {
	store *store.SQLiteStore
	conv  *conversation.Store
	exec  *Executor
	ctx   *domain.ConversationContext
}

func setup(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "exec.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := func() time.Time { return now }
	cs := conversation.New(conversation.Config{Store: s, Now: clock, Logger: logger})
	c, err := cs.GetOrCreate(context.Background(), "u1", "5491155550000")
	require.NoError(t, err)

	return &harness{
		store: s,
		conv:  cs,
		ctx:   c,
		exec: New(Config{
			Tasks:         s,
			Conversations: cs,
			Location:      loc,
			Now:           clock,
			Logger:        logger,
		}),
	}
}

func (h *harness) run(t *testing.T, eventID string, in domain.Intent) (Result, error) {
	t.Helper()
	c, err := h.conv.Get(context.Background(), h.ctx.ID)
	require.NoError(t, err)
	return h.exec.Execute(context.Background(), Request{
		UserID:       "u1",
		EventID:      eventID,
		Conversation: c,
		Intent:       in,
	})
}

func (h *harness) reload(t *testing.T) *domain.ConversationContext {
	t.Helper()
	c, err := h.conv.Get(context.Background(), h.ctx.ID)
	require.NoError(t, err)
	return c
}

func createIntent(td domain.TaskData) domain.Intent {
	return domain.Intent{Kind: domain.IntentCreateTask, Confidence: 0.9, TaskData: &td}
}

func requireExecErr(t *testing.T, err error) *domain.ExecutionError {
	t.Helper()
	var ee *domain.ExecutionError
	require.True(t, errors.As(err, &ee), "expected ExecutionError, got %v", err)
	return ee
}

// --- create_task ---

func TestCreateTask_DentistScenario(t *testing.T) {
	h := setup(t)

	res, err := h.run(t, "evt-1", createIntent(domain.TaskData{
		Title:    "Llamar al dentista",
		Category: "next_action",
		DueDate:  "2026-03-11",
		DueTime:  "15:00",
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.IntentCreateTask, res.Intent)
	assert.Contains(t, res.Reply, "Llamar al dentista")
	assert.Contains(t, res.Reply, "miércoles 11/03/2026 15:00")
	assert.Contains(t, res.Reply, "Próxima acción")

	task, err := h.store.GetTask(context.Background(), "u1", res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNextAction, task.Category)
	require.NotNil(t, task.DueDate)
	assert.True(t, task.DueDate.Equal(time.Date(2026, 3, 11, 15, 0, 0, 0, loc)))

	c := h.reload(t)
	assert.Equal(t, res.TaskID, c.LastTaskID)
	assert.Equal(t, string(domain.IntentCreateTask), c.LastIntent)
}

func TestCreateTask_IdempotentPerEvent(t *testing.T) {
	h := setup(t)
	in := createIntent(domain.TaskData{Title: "Comprar pan", Category: "inbox"})

	first, err := h.run(t, "evt-dup", in)
	require.NoError(t, err)
	second, err := h.run(t, "evt-dup", in)
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)

	_, total, err := h.store.ListTasks(context.Background(), "u1", domain.FilterInbox, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestCreateTask_QuickActionAndContext(t *testing.T) {
	h := setup(t)
	_, err := h.store.CreateContext(context.Background(), "u1", "Casa")
	require.NoError(t, err)

	res, err := h.run(t, "evt-q", createIntent(domain.TaskData{
		Title:            "Regar las plantas",
		ContextName:      "@casa",
		EstimatedMinutes: 2,
	}))
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "menos de 2 minutos")
	assert.Contains(t, res.Reply, "@Casa")

	task, err := h.store.GetTask(context.Background(), "u1", res.TaskID)
	require.NoError(t, err)
	assert.True(t, task.IsQuickAction)
	assert.NotEmpty(t, task.ContextID)
	assert.Equal(t, domain.CategoryInbox, task.Category)
}

func TestCreateTask_NotQuickAboveTwoMinutes(t *testing.T) {
	h := setup(t)
	res, err := h.run(t, "evt-3m", createIntent(domain.TaskData{Title: "Ordenar escritorio", EstimatedMinutes: 3}))
	require.NoError(t, err)
	assert.NotContains(t, res.Reply, "menos de 2 minutos")
}

func TestCreateTask_UnknownContextStillCreates(t *testing.T) {
	h := setup(t)
	res, err := h.run(t, "evt-ctx", createIntent(domain.TaskData{Title: "Imprimir informe", ContextName: "oficina"}))
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No encontré el contexto @oficina")

	task, err := h.store.GetTask(context.Background(), "u1", res.TaskID)
	require.NoError(t, err)
	assert.Empty(t, task.ContextID)
}

func TestCreateTask_MissingTaskData(t *testing.T) {
	h := setup(t)
	_, err := h.run(t, "evt-x", domain.Intent{Kind: domain.IntentCreateTask})
	ee := requireExecErr(t, err)
	assert.Equal(t, msgRephrase, ee.UserMessage)
}

// --- complete_task ---

func TestCompleteTask_WithoutReferent(t *testing.T) {
	h := setup(t)
	_, err := h.run(t, "evt-c", domain.Intent{Kind: domain.IntentCompleteTask, NeedsContext: true})
	ee := requireExecErr(t, err)
	assert.Equal(t, msgWhichTaskComplete, ee.UserMessage)

	_, total, err := h.store.ListTasks(context.Background(), "u1", domain.FilterNextAction, now, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCompleteTask_MarksLastTask(t *testing.T) {
	h := setup(t)
	created, err := h.run(t, "evt-1", createIntent(domain.TaskData{Title: "Pagar la luz"}))
	require.NoError(t, err)

	res, err := h.run(t, "evt-2", domain.Intent{Kind: domain.IntentCompleteTask})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Pagar la luz")

	task, err := h.store.GetTask(context.Background(), "u1", created.TaskID)
	require.NoError(t, err)
	assert.True(t, task.Completed)

	again, err := h.run(t, "evt-3", domain.Intent{Kind: domain.IntentCompleteTask})
	require.NoError(t, err)
	assert.Contains(t, again.Reply, "ya estaba completada")
}

func TestCompleteTask_VanishedTask(t *testing.T) {
	h := setup(t)
	missing := "does-not-exist"
	require.NoError(t, h.conv.Update(context.Background(), h.ctx.ID, domain.ConversationPatch{LastTaskID: &missing}))

	_, err := h.run(t, "evt-v", domain.Intent{Kind: domain.IntentCompleteTask})
	ee := requireExecErr(t, err)
	assert.Equal(t, msgTaskGone, ee.UserMessage)
}

// --- add_context ---

func TestAddContext(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	_, err := h.store.CreateContext(ctx, "u1", "Teléfono")
	require.NoError(t, err)

	_, err = h.run(t, "evt-0", domain.Intent{Kind: domain.IntentAddContext, Parameters: map[string]string{"contextName": "teléfono"}})
	assert.Equal(t, msgWhichTaskContext, requireExecErr(t, err).UserMessage)

	created, err := h.run(t, "evt-1", createIntent(domain.TaskData{Title: "Llamar a mamá"}))
	require.NoError(t, err)

	_, err = h.run(t, "evt-2", domain.Intent{Kind: domain.IntentAddContext})
	assert.Equal(t, msgMissingContextName, requireExecErr(t, err).UserMessage)

	_, err = h.run(t, "evt-3", domain.Intent{Kind: domain.IntentAddContext, Parameters: map[string]string{"contextName": "auto"}})
	assert.Contains(t, requireExecErr(t, err).UserMessage, "@auto")

	res, err := h.run(t, "evt-4", domain.Intent{Kind: domain.IntentAddContext, Parameters: map[string]string{"contextName": "@TELÉFONO"}})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "@Teléfono")

	task, err := h.store.GetTask(ctx, "u1", created.TaskID)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ContextID)
}

// --- edit_task ---

func TestEditTask(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.run(t, "evt-0", domain.Intent{Kind: domain.IntentEditTask})
	assert.Equal(t, msgWhichTaskEdit, requireExecErr(t, err).UserMessage)

	created, err := h.run(t, "evt-1", createIntent(domain.TaskData{Title: "Comprar regalo"}))
	require.NoError(t, err)

	edit := func(field, value string) (Result, error) {
		return h.run(t, "evt-e", domain.Intent{
			Kind:       domain.IntentEditTask,
			Parameters: map[string]string{"editField": field, "newValue": value},
		})
	}

	_, err = edit("color", "rojo")
	assert.Equal(t, msgUnknownEditField, requireExecErr(t, err).UserMessage)

	_, err = edit("title", "")
	assert.Contains(t, requireExecErr(t, err).UserMessage, "el título")

	_, err = edit("dueDate", "el mes que viene")
	assert.Contains(t, requireExecErr(t, err).UserMessage, "el mes que viene")

	_, err = edit("category", "urgente")
	assert.Equal(t, msgInvalidCategory, requireExecErr(t, err).UserMessage)

	res, err := edit("dueDate", "viernes")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "viernes 13/03/2026")

	res, err = edit("titulo", "Comprar regalo para Ana")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Comprar regalo para Ana")

	_, err = edit("categoría", "Someday")
	require.NoError(t, err)

	task, err := h.store.GetTask(ctx, "u1", created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "Comprar regalo para Ana", task.Title)
	assert.Equal(t, domain.CategorySomeday, task.Category)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2026-03-13", task.DueDate.In(loc).Format("2006-01-02"))
}

// --- view_tasks ---

func TestViewTasks_DefaultNextActionWithRemainder(t *testing.T) {
	h := setup(t)
	for i := 0; i < 12; i++ {
		_, err := h.run(t, fmt.Sprintf("evt-%d", i), createIntent(domain.TaskData{
			Title:    fmt.Sprintf("Tarea %d", i),
			Category: "NextAction",
		}))
		require.NoError(t, err)
	}
	_, err := h.run(t, "evt-inbox", createIntent(domain.TaskData{Title: "Idea suelta"}))
	require.NoError(t, err)

	res, err := h.run(t, "evt-view", domain.Intent{Kind: domain.IntentViewTasks})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "Próximas acciones* (12)")
	assert.Contains(t, res.Reply, "…y 2 más")
	assert.NotContains(t, res.Reply, "Idea suelta")

	c := h.reload(t)
	assert.Equal(t, string(domain.IntentViewTasks), c.LastIntent)
}

func TestViewTasks_EmptyToday(t *testing.T) {
	h := setup(t)
	res, err := h.run(t, "evt-view", domain.Intent{Kind: domain.IntentViewTasks, Parameters: map[string]string{"filter": "today"}})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "No tenés tareas para hoy")
}

// --- help / greeting / unknown ---

func TestHelp_HasMenuAndFallbackText(t *testing.T) {
	h := setup(t)
	res, err := h.run(t, "evt-h", domain.Intent{Kind: domain.IntentHelp})
	require.NoError(t, err)
	require.NotNil(t, res.Menu)
	assert.NotEmpty(t, res.Menu.Sections)
	assert.Contains(t, res.Reply, "1. Anotar una tarea")
}

func TestGreeting(t *testing.T) {
	h := setup(t)
	res, err := h.run(t, "evt-g", domain.Intent{Kind: domain.IntentGreeting})
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "¡Buen día!")
}

func TestUnknownKind(t *testing.T) {
	h := setup(t)
	_, err := h.run(t, "evt-u", domain.Intent{Kind: "delete_all"})
	requireExecErr(t, err)
}

func TestMenuIntent(t *testing.T) {
	in, ok := MenuIntent("view_today")
	require.True(t, ok)
	assert.Equal(t, domain.IntentViewTasks, in.Kind)
	assert.Equal(t, "today", in.Param("filter"))
	assert.Equal(t, domain.SourceMenu, in.Source)

	_, ok = MenuIntent("something else")
	assert.False(t, ok)
}
