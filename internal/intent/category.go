package intent

import (
	"strings"
	"unicode"

	"gtdbot/internal/domain"
)

// Phrases are matched word by word against accent-folded, lowercased text.
// A trailing "*" on a phrase word matches any word with that prefix.
var (
	waitingPhrases = []string{
		"esperar a", "esperar que", "esperando", "espero que", "espero respuesta",
		"cuando me responda", "cuando me conteste", "cuando me mande", "cuando me envie",
		"que me responda", "que me conteste", "que me mande", "que me envie", "que me devuelva",
		"respuesta de", "depende de", "le pedi", "les pedi", "pendiente de",
		"waiting for", "waiting on", "follow up with",
	}
	multiStepPhrases = []string{
		"proyecto", "organizar la", "organizar el viaje", "planificar", "planear", "mudanza", "mudarme",
		"remodelar", "reformar la", "lanzar", "implementar", "armar un plan", "varios pasos",
		"preparar el viaje", "migrar", "redisenar",
		"project", "plan the", "launch",
	}
	somedayPhrases = []string{
		"algun dia", "alguna vez", "me gustaria", "quizas", "tal vez", "capaz que",
		"recomend*", "recomiend*", "cuando tenga tiempo", "en el futuro", "ver la pelicula",
		"ver la serie", "leer el libro", "aprender a",
		"someday", "some day", "maybe", "would like to", "recommend*",
	}
)

func words(text string) []string {
	return strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordMatches(word, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(word, prefix)
	}
	return word == pattern
}

func containsPhrase(ws []string, phrase string) bool {
	pw := strings.Fields(phrase)
	for i := 0; i+len(pw) <= len(ws); i++ {
		match := true
		for j, p := range pw {
			if !wordMatches(ws[i+j], p) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func containsAny(ws []string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(ws, p) {
			return true
		}
	}
	return false
}

// InferCategory decides the GTD bucket. A due date always makes a next
// action. Otherwise a valid model category stands, and the phrase lists
// (waiting, multi-step, someday, in that order) only fill in when the model
// gave none. Anything left is Inbox.
func InferCategory(text string, hasDueDate bool, modelCategory string) domain.Category {
	if hasDueDate {
		return domain.CategoryNextAction
	}
	if c, ok := domain.ParseCategory(modelCategory); ok {
		return c
	}
	ws := words(text)
	switch {
	case containsAny(ws, waitingPhrases):
		return domain.CategoryWaiting
	case containsAny(ws, multiStepPhrases):
		return domain.CategoryMultiStep
	case containsAny(ws, somedayPhrases):
		return domain.CategorySomeday
	}
	return domain.CategoryInbox
}
