package intent

import (
	"fmt"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

// Parameter keys the model may fill.
const (
	ParamFilter      = "filter"      // view_tasks: inbox | today | next_action
	ParamEditField   = "editField"   // edit_task
	ParamNewValue    = "newValue"    // edit_task
	ParamContextName = "contextName" // add_context
)

const systemPrompt = `Sos el clasificador de intenciones de un asistente GTD (Getting Things Done) que recibe mensajes de WhatsApp en español.
Respondé SOLO con un objeto JSON, sin texto adicional ni bloques de código.

Intenciones posibles ("intent"):
- create_task: el usuario quiere anotar algo para hacer.
- view_tasks: quiere ver sus tareas. parameters.filter: "inbox", "today" o "next_action".
- complete_task: quiere marcar como hecha la última tarea mencionada ("listo", "ya está", "completar esa tarea").
- edit_task: quiere cambiar un campo de la última tarea. parameters.editField: "title", "description", "dueDate", "context" o "category"; parameters.newValue: el valor nuevo. Un solo campo por mensaje.
- add_context: quiere asignar un contexto (ej. "@casa", "@oficina") a la última tarea. parameters.contextName sin "@".
- help: pide ayuda o no sabe qué puede hacer.
- greeting: saludo o agradecimiento sin otra intención.

Esquema:
{
  "intent": "create_task",
  "confidence": 0.0-1.0,
  "needsContext": true si la intención se refiere a "esa tarea" / la última tarea,
  "parameters": {"clave": "valor"},
  "taskData": {
    "title": "título corto en infinitivo",
    "description": "detalle opcional",
    "category": "Inbox | NextAction | MultiStep | Waiting | Someday",
    "contextName": "contexto sin @ si se menciona",
    "dueDate": "YYYY-MM-DD",
    "dueTime": "HH:MM",
    "estimatedMinutes": minutos estimados si se puede inferir
  }
}

taskData solo para create_task. Resolvé fechas relativas ("mañana", "el viernes", "pasado mañana") a fechas absolutas usando la fecha actual que se indica.

Categoría GTD, en este orden:
1. Tiene fecha límite -> NextAction.
2. Depende de que otra persona responda o entregue algo -> Waiting.
3. Requiere varios pasos o es un proyecto grande -> MultiStep.
4. Idea, recomendación o deseo sin urgencia -> Someday.
5. Si no está claro -> Inbox.`

// Input is what the classifier sees about one message.
type Input struct {
	Text        string
	History     []domain.Turn // oldest first, already windowed
	HasLastTask bool
	LastIntent  string
}

var weekdayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

func buildUserPrompt(in Input, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fecha actual: %s (%s), hora %s, zona %s.\n",
		now.Format(dateLayout), weekdayNames[now.Weekday()], now.Format("15:04"), now.Location())

	if in.HasLastTask {
		b.WriteString("Hay una última tarea referenciada (lastTaskId presente).\n")
	} else {
		b.WriteString("No hay ninguna tarea referenciada (lastTaskId ausente).\n")
	}
	if in.LastIntent != "" {
		fmt.Fprintf(&b, "Última intención: %s.\n", in.LastIntent)
	}

	if len(in.History) > 0 {
		b.WriteString("\nConversación reciente:\n")
		for _, t := range in.History {
			role := "Usuario"
			if t.Role == domain.RoleAssistant {
				role = "Asistente"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
	}

	fmt.Fprintf(&b, "\nMensaje: %s", in.Text)
	return b.String()
}
