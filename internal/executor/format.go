package executor

import (
	"fmt"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

const (
	msgRephrase           = "No llegué a entender qué tarea querés anotar 🤔 ¿Podés reformularlo? Por ejemplo: \"Comprar leche mañana\"."
	msgWhichTaskComplete  = "¿Qué tarea querés completar? Primero mencioná o creá una tarea y después decime \"listo\"."
	msgWhichTaskContext   = "¿A qué tarea le agrego el contexto? Primero mencioná o creá una tarea."
	msgWhichTaskEdit      = "¿Qué tarea querés editar? Primero mencioná o creá una tarea."
	msgMissingContextName = "¿Qué contexto le pongo? Decime el nombre, por ejemplo \"@casa\" u \"@oficina\"."
	msgUnknownEditField   = "Puedo cambiar el título, la descripción, la fecha, el contexto o la categoría. ¿Cuál querés modificar?"
	msgInvalidCategory    = "Esa categoría no existe. Usá: Bandeja de entrada, Próxima acción, Proyecto, En espera o Algún día."
	msgTaskGone           = "No encontré esa tarea 😕 Puede que la hayas borrado. Probá con \"ver mis tareas\"."
)

var weekdayES = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// formatDate renders "miércoles 11/03/2026" in loc, adding the time when it
// is not midnight.
func formatDate(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	s := fmt.Sprintf("%s %s", weekdayES[t.Weekday()], t.Format("02/01/2006"))
	if t.Hour() != 0 || t.Minute() != 0 {
		s += " " + t.Format("15:04")
	}
	return s
}

func fieldLabel(field string) string {
	switch field {
	case domain.EditTitle:
		return "el título"
	case domain.EditDescription:
		return "la descripción"
	case domain.EditDueDate:
		return "la fecha"
	case domain.EditContext:
		return "el contexto"
	case domain.EditCategory:
		return "la categoría"
	}
	return field
}

func missingValueText(field string) string {
	return fmt.Sprintf("¿Cuál es el nuevo valor para %s?", fieldLabel(field))
}

func invalidDateText(value string) string {
	return fmt.Sprintf("No entendí la fecha \"%s\" 📅 Probá con algo como \"25/12\", \"mañana\" o \"el viernes\".", value)
}

func contextNotFoundText(name string) string {
	return fmt.Sprintf("No encontré el contexto *@%s*. Podés crearlo desde la app y volver a intentarlo.", name)
}

func taskCreatedText(t *domain.Task, contextName, missingContext string, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Tarea creada: *%s*\n", t.Title)
	fmt.Fprintf(&b, "📂 %s", t.Category.Label())
	if t.DueDate != nil {
		fmt.Fprintf(&b, "\n📅 %s", formatDate(*t.DueDate, loc))
	}
	if contextName != "" {
		fmt.Fprintf(&b, "\n🏷️ @%s", contextName)
	}
	if t.IsQuickAction {
		b.WriteString("\n\n⚡ Lleva menos de 2 minutos: si podés, ¡hacela ahora!")
	}
	if missingContext != "" {
		fmt.Fprintf(&b, "\n\n(No encontré el contexto @%s, la guardé sin contexto.)", missingContext)
	}
	return b.String()
}

func filterTitle(f domain.TaskFilter) string {
	switch f {
	case domain.FilterInbox:
		return "📥 Bandeja de entrada"
	case domain.FilterToday:
		return "📅 Tareas para hoy"
	default:
		return "▶️ Próximas acciones"
	}
}

func emptyListText(f domain.TaskFilter) string {
	switch f {
	case domain.FilterInbox:
		return "📥 Tu bandeja de entrada está vacía. ¡Todo procesado! 🙌"
	case domain.FilterToday:
		return "📅 No tenés tareas para hoy. ¡Disfrutá el día! ☀️"
	default:
		return "▶️ No tenés próximas acciones pendientes. Mandame algo para anotar cuando quieras."
	}
}

func taskListText(f domain.TaskFilter, tasks []domain.Task, total int, loc *time.Location) string {
	if len(tasks) == 0 {
		return emptyListText(f)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* (%d)\n", filterTitle(f), total)
	for i, t := range tasks {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t.Title)
		if t.IsQuickAction {
			b.WriteString(" ⚡")
		}
		if t.DueDate != nil {
			fmt.Fprintf(&b, " (📅 %s)", formatDate(*t.DueDate, loc))
		}
	}
	if rest := total - len(tasks); rest > 0 {
		fmt.Fprintf(&b, "\n\n…y %d más. Miralas todas en la app.", rest)
	}
	return b.String()
}

func greetingText(now time.Time) string {
	var salute string
	switch h := now.Hour(); {
	case h >= 5 && h < 12:
		salute = "¡Buen día!"
	case h >= 12 && h < 20:
		salute = "¡Buenas tardes!"
	default:
		salute = "¡Buenas noches!"
	}
	return salute + " 👋 Soy tu asistente GTD. Mandame cualquier cosa que tengas que hacer y la anoto. Escribí \"ayuda\" para ver qué puedo hacer."
}

func helpText() string {
	return helpMenu().PlainText()
}

func helpMenu() *domain.Menu {
	return &domain.Menu{
		Title:      "🤖 ¿Qué puedo hacer?",
		Body:       "Escribime o mandame un audio. Algunos ejemplos:",
		ButtonText: "Ver opciones",
		Footer:     "Tus tareas se sincronizan con la app.",
		Sections: []domain.MenuSection{
			{
				Title: "Tareas",
				Rows: []domain.MenuRow{
					{ID: "create_task", Title: "Anotar una tarea", Description: "\"Llamar al dentista mañana a las 3pm\""},
					{ID: "view_next", Title: "Próximas acciones", Description: "\"¿Qué tengo pendiente?\""},
					{ID: "view_today", Title: "Tareas de hoy", Description: "\"¿Qué tengo para hoy?\""},
					{ID: "view_inbox", Title: "Bandeja de entrada", Description: "\"Mostrame el inbox\""},
				},
			},
			{
				Title: "Sobre la última tarea",
				Rows: []domain.MenuRow{
					{ID: "complete_task", Title: "Completarla", Description: "\"Listo, ya está\""},
					{ID: "add_context", Title: "Agregar contexto", Description: "\"Ponele @casa\""},
					{ID: "edit_task", Title: "Editarla", Description: "\"Cambiá la fecha al viernes\""},
				},
			},
		},
	}
}

// MenuIntent maps a help-menu row id back to an intent so menu taps skip the
// classifier.
func MenuIntent(rowID string) (domain.Intent, bool) {
	in := domain.Intent{Confidence: 1, Source: domain.SourceMenu}
	switch strings.TrimSpace(rowID) {
	case "view_next":
		in.Kind = domain.IntentViewTasks
		in.Parameters = map[string]string{"filter": string(domain.FilterNextAction)}
	case "view_today":
		in.Kind = domain.IntentViewTasks
		in.Parameters = map[string]string{"filter": string(domain.FilterToday)}
	case "view_inbox":
		in.Kind = domain.IntentViewTasks
		in.Parameters = map[string]string{"filter": string(domain.FilterInbox)}
	case "complete_task":
		in.Kind = domain.IntentCompleteTask
		in.NeedsContext = true
	case "create_task", "add_context", "edit_task":
		in.Kind = domain.IntentHelp
	default:
		return domain.Intent{}, false
	}
	return in, true
}
