package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gtdbot/internal/domain"
	"gtdbot/internal/intent"
)

func (e *Executor) createTask(ctx context.Context, req Request) (Result, error) {
	td := req.Intent.TaskData
	if td == nil || strings.TrimSpace(td.Title) == "" {
		return Result{}, execErr("missing task data", msgRephrase)
	}
	now := e.now().In(e.loc)

	category, ok := domain.ParseCategory(td.Category)
	if !ok {
		category = domain.CategoryInbox
	}

	task := domain.Task{
		UserID:           req.UserID,
		Title:            strings.TrimSpace(td.Title),
		Description:      td.Description,
		Category:         category,
		EstimatedMinutes: td.EstimatedMinutes,
		IsQuickAction:    td.EstimatedMinutes > 0 && td.EstimatedMinutes <= 2,
		SourceEventID:    req.EventID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var missingContext string
	var contextName string
	if name := cleanContextName(td.ContextName); name != "" {
		c, err := e.tasks.FindContextByName(ctx, req.UserID, name)
		if err != nil {
			return Result{}, fmt.Errorf("create task: find context: %w", err)
		}
		if c != nil {
			task.ContextID = c.ID
			contextName = c.Name
		} else {
			missingContext = name
		}
	}

	if td.DueDate != "" {
		due, err := intent.DueDate(td.DueDate, td.DueTime, now)
		if err != nil {
			e.logger.Debug("ignoring due date", "dueDate", td.DueDate, "error", err)
		} else {
			task.DueDate = &due
		}
	}

	created, err := e.tasks.CreateTask(ctx, task)
	if err != nil {
		return Result{}, fmt.Errorf("create task: %w", err)
	}

	e.logger.Info("task created",
		"user_id", req.UserID,
		"task_id", created.ID,
		"category", created.Category,
		"quick", created.IsQuickAction,
	)
	return Result{
		Reply:  taskCreatedText(created, contextName, missingContext, e.loc),
		TaskID: created.ID,
	}, nil
}

func (e *Executor) viewTasks(ctx context.Context, req Request) (Result, error) {
	filter := parseFilter(req.Intent.Param(intent.ParamFilter))
	now := e.now().In(e.loc)

	tasks, total, err := e.tasks.ListTasks(ctx, req.UserID, filter, now, listLimit)
	if err != nil {
		return Result{}, fmt.Errorf("view tasks: %w", err)
	}
	return Result{Reply: taskListText(filter, tasks, total, e.loc)}, nil
}

func (e *Executor) completeTask(ctx context.Context, req Request) (Result, error) {
	task, err := e.referencedTask(ctx, req, msgWhichTaskComplete)
	if err != nil {
		return Result{}, err
	}
	if task.Completed {
		return Result{Reply: fmt.Sprintf("La tarea *%s* ya estaba completada ✅", task.Title), TaskID: task.ID}, nil
	}

	done := true
	updated, err := e.tasks.UpdateTask(ctx, req.UserID, task.ID, domain.TaskPatch{Completed: &done}, e.now())
	if err != nil {
		return Result{}, e.mapTaskErr("complete task", err)
	}
	return Result{
		Reply:  fmt.Sprintf("🎉 ¡Bien! Completaste *%s*.", updated.Title),
		TaskID: updated.ID,
	}, nil
}

func (e *Executor) addContext(ctx context.Context, req Request) (Result, error) {
	if lastTaskID(req) == "" {
		return Result{}, execErr("missing referent", msgWhichTaskContext)
	}

	name := cleanContextName(req.Intent.Param(intent.ParamContextName))
	if name == "" && req.Intent.TaskData != nil {
		name = cleanContextName(req.Intent.TaskData.ContextName)
	}
	if name == "" {
		return Result{}, execErr("missing context name", msgMissingContextName)
	}

	c, err := e.tasks.FindContextByName(ctx, req.UserID, name)
	if err != nil {
		return Result{}, fmt.Errorf("add context: find context: %w", err)
	}
	if c == nil {
		return Result{}, execErr("unresolved context", contextNotFoundText(name))
	}

	task, err := e.referencedTask(ctx, req, msgWhichTaskContext)
	if err != nil {
		return Result{}, err
	}

	updated, err := e.tasks.UpdateTask(ctx, req.UserID, task.ID, domain.TaskPatch{ContextID: &c.ID}, e.now())
	if err != nil {
		return Result{}, e.mapTaskErr("add context", err)
	}
	return Result{
		Reply:  fmt.Sprintf("🏷️ Agregué el contexto *@%s* a *%s*.", c.Name, updated.Title),
		TaskID: updated.ID,
	}, nil
}

var editFieldAliases = map[string]string{
	"title": domain.EditTitle, "titulo": domain.EditTitle, "título": domain.EditTitle, "nombre": domain.EditTitle,
	"description": domain.EditDescription, "descripcion": domain.EditDescription, "descripción": domain.EditDescription,
	"duedate": domain.EditDueDate, "due_date": domain.EditDueDate, "fecha": domain.EditDueDate, "date": domain.EditDueDate,
	"context": domain.EditContext, "contexto": domain.EditContext,
	"category": domain.EditCategory, "categoria": domain.EditCategory, "categoría": domain.EditCategory,
}

func (e *Executor) editTask(ctx context.Context, req Request) (Result, error) {
	if lastTaskID(req) == "" {
		return Result{}, execErr("missing referent", msgWhichTaskEdit)
	}

	rawField := req.Intent.Param(intent.ParamEditField)
	field, ok := editFieldAliases[strings.ToLower(strings.TrimSpace(rawField))]
	if !ok {
		return Result{}, execErr(fmt.Sprintf("unknown edit field %q", rawField), msgUnknownEditField)
	}
	value := strings.TrimSpace(req.Intent.Param(intent.ParamNewValue))
	if value == "" {
		return Result{}, execErr("missing edit value", missingValueText(field))
	}

	now := e.now().In(e.loc)
	var patch domain.TaskPatch
	shown := value
	switch field {
	case domain.EditTitle:
		patch.Title = &value
	case domain.EditDescription:
		patch.Description = &value
	case domain.EditDueDate:
		due, err := intent.ResolveDate(value, now)
		if err != nil {
			return Result{}, execErr("unparseable date", invalidDateText(value))
		}
		patch.DueDate = &due
		shown = formatDate(due, e.loc)
	case domain.EditContext:
		name := cleanContextName(value)
		c, err := e.tasks.FindContextByName(ctx, req.UserID, name)
		if err != nil {
			return Result{}, fmt.Errorf("edit task: find context: %w", err)
		}
		if c == nil {
			return Result{}, execErr("unresolved context", contextNotFoundText(name))
		}
		patch.ContextID = &c.ID
		shown = "@" + c.Name
	case domain.EditCategory:
		cat, ok := domain.ParseCategory(value)
		if !ok {
			return Result{}, execErr("unknown category", msgInvalidCategory)
		}
		patch.Category = &cat
		shown = cat.Label()
	}

	task, err := e.referencedTask(ctx, req, msgWhichTaskEdit)
	if err != nil {
		return Result{}, err
	}
	updated, err := e.tasks.UpdateTask(ctx, req.UserID, task.ID, patch, now)
	if err != nil {
		return Result{}, e.mapTaskErr("edit task", err)
	}
	return Result{
		Reply:  fmt.Sprintf("✏️ Actualicé %s de *%s*: %s", fieldLabel(field), updated.Title, shown),
		TaskID: updated.ID,
	}, nil
}

// referencedTask loads the conversation's lastTaskId, scoped to the user.
func (e *Executor) referencedTask(ctx context.Context, req Request, askWhich string) (*domain.Task, error) {
	id := lastTaskID(req)
	if id == "" {
		return nil, execErr("missing referent", askWhich)
	}
	task, err := e.tasks.GetTask(ctx, req.UserID, id)
	if err != nil {
		return nil, e.mapTaskErr("load task", err)
	}
	return task, nil
}

func (e *Executor) mapTaskErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return execErr("task not found", msgTaskGone)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func lastTaskID(req Request) string {
	if req.Conversation == nil {
		return ""
	}
	return req.Conversation.LastTaskID
}

func cleanContextName(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

func parseFilter(s string) domain.TaskFilter {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbox", "entrada", "bandeja":
		return domain.FilterInbox
	case "today", "hoy":
		return domain.FilterToday
	default:
		return domain.FilterNextAction
	}
}
