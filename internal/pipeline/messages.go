package pipeline

import (
	"strings"

	"gtdbot/internal/media"
)

const (
	msgNotRegistered         = "👋 ¡Hola! No encontré una cuenta asociada a este número. Registrate en la app y después vinculá tu WhatsApp desde Configuración."
	msgNotRegisteredTelegram = "👋 ¡Hola! Para usarme desde Telegram generá un código de vinculación en la app y envialo acá (son 6 dígitos)."
	msgNotLinked             = "🔗 Tu número está registrado pero todavía no está vinculado. Generá un código en la app y envialo acá (son 6 dígitos)."
	msgNotEntitled           = "💳 Tu suscripción no incluye el asistente o está vencida. Renovala desde la app para seguir usándome."
	msgLinked                = "✅ ¡Listo! Vinculé este número con tu cuenta. Ya podés mandarme tareas por mensaje o audio."
	msgLinkFailed            = "❌ Ese código no es válido o ya venció. Generá uno nuevo en la app e intentá otra vez."
	msgEmpty                 = "🤔 No recibí ningún texto. Escribime qué querés anotar o mandame un audio."
	msgGeneric               = "😕 Tuve un problema procesando tu mensaje. Probá de nuevo en unos minutos."
)

// Failure categories used when an unexpected error escapes the pipeline.
const (
	failureSubscription  = "subscription"
	failureLinking       = "linking"
	failureTranscription = "transcription"
	failureGeneric       = "generic"
)

// classifyFailure maps an arbitrary error onto a user-facing category by
// looking at its message. Only used on the internal-error path.
func classifyFailure(err error) (category, reply string) {
	if err == nil {
		return failureGeneric, msgGeneric
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "subscription", "suscrip", "entitle"):
		return failureSubscription, msgNotEntitled
	case containsAny(msg, "link", "vincul", "registered"):
		return failureLinking, msgNotLinked
	case containsAny(msg, "transcri", "audio", "media", "whisper"):
		return failureTranscription, media.UserMessage
	default:
		return failureGeneric, msgGeneric
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
