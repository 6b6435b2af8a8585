package usecase

import (
	"strings"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

type IntentKind int

const (
	IntentUnknown IntentKind = iota
	IntentAccept
	IntentChooseOther
	IntentDecline
	IntentSkip
	IntentCancel
	IntentExit
	IntentCategory
	IntentFreeText
)

func (k IntentKind) String() string {
	switch k {
	case IntentAccept:
		return "accept"
	case IntentChooseOther:
		return "choose_other"
	case IntentDecline:
		return "decline"
	case IntentSkip:
		return "skip"
	case IntentCancel:
		return "cancel"
	case IntentExit:
		return "exit"
	case IntentCategory:
		return "category"
	case IntentFreeText:
		return "free_text"
	default:
		return "unknown"
	}
}

// Intent is a reply mapped onto the closed set of inputs a state understands.
type Intent struct {
	Kind  IntentKind
	Value string
}

// Canonical reply texts. They double as button ids so button taps match exactly.
const (
	replyAcceptPrefix  = "Sí, es "
	replyChooseOther   = "Elegir otra categoría"
	replyCancelUpload  = "Cancelar subida"
	replyRename        = "Sí, renombrar"
	replyAutoName      = "No, usar nombre automático"
	replySkipTags      = "No añadir etiquetas"
	replyAddComment    = "Sí"
	replyNoComment     = "No, finalizar"
	replyExitKeyword   = "cancelar"
	replyExitAlternate = "salir"
	replySkipAlternate = "saltar"
)

var (
	foldedAcceptPrefix = domain.FoldText(strings.TrimSpace(replyAcceptPrefix))
	foldedCancelUpload = domain.FoldText(replyCancelUpload)
	foldedExit         = domain.FoldText(replyExitKeyword)
)

// classifyReply maps raw reply text to the intent it carries in the given state.
func classifyReply(state domain.State, text string, catalog domain.CategoryCatalog) Intent {
	raw := strings.TrimSpace(text)
	folded := domain.FoldText(raw)

	if state == domain.StateIdle {
		return Intent{Kind: IntentFreeText, Value: raw}
	}
	if state == domain.StateAwaitingFileUpload {
		if folded == foldedExit || folded == domain.FoldText(replyExitAlternate) {
			return Intent{Kind: IntentExit}
		}
		return Intent{Kind: IntentUnknown}
	}

	if folded == foldedCancelUpload {
		return Intent{Kind: IntentCancel}
	}
	// A bare "cancelar" only cancels where the reply is a choice; free-text
	// states keep it as a name, tag or comment.
	if folded == foldedExit && buttonOnly(state) {
		return Intent{Kind: IntentCancel}
	}

	switch state {
	case domain.StateAwaitingClassificationConfirmation:
		switch {
		case folded == foldedAcceptPrefix || strings.HasPrefix(folded, foldedAcceptPrefix+" "):
			return Intent{Kind: IntentAccept}
		case folded == domain.FoldText(replyChooseOther):
			return Intent{Kind: IntentChooseOther}
		}
	case domain.StateAwaitingCategoryChoice:
		if name, ok := catalog.Match(raw); ok {
			return Intent{Kind: IntentCategory, Value: name}
		}
	case domain.StateAwaitingRenameConfirmation:
		switch folded {
		case domain.FoldText(replyRename):
			return Intent{Kind: IntentAccept}
		case domain.FoldText(replyAutoName):
			return Intent{Kind: IntentDecline}
		}
	case domain.StateAwaitingCustomFileName:
		if raw != "" {
			return Intent{Kind: IntentFreeText, Value: raw}
		}
	case domain.StateAwaitingTags:
		if folded == domain.FoldText(replySkipTags) || folded == domain.FoldText(replySkipAlternate) {
			return Intent{Kind: IntentSkip}
		}
		if raw != "" {
			return Intent{Kind: IntentFreeText, Value: raw}
		}
	case domain.StateAwaitingComments:
		switch folded {
		case domain.FoldText(replyAddComment):
			return Intent{Kind: IntentAccept}
		case domain.FoldText(replyNoComment):
			return Intent{Kind: IntentDecline}
		}
		if raw != "" {
			return Intent{Kind: IntentFreeText, Value: raw}
		}
	}
	return Intent{Kind: IntentUnknown}
}

func buttonOnly(state domain.State) bool {
	switch state {
	case domain.StateAwaitingClassificationConfirmation,
		domain.StateAwaitingCategoryChoice,
		domain.StateAwaitingRenameConfirmation:
		return true
	default:
		return false
	}
}

// optionNumber parses a reply made of digits only, as typed against a
// numbered menu.
func optionNumber(text string) (int, bool) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if text == "" || len(text) > 3 {
		return 0, false
	}
	n := 0
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, n > 0
}

// resolveOption turns "3" into the id of the third option the current
// prompt offers. Only choice states take numbers; elsewhere a number is
// legitimate free text. A category literally named like the number wins.
func (e *Engine) resolveOption(s domain.Session, text string) string {
	if !buttonOnly(s.State) {
		return text
	}
	n, ok := optionNumber(text)
	if !ok {
		return text
	}
	if s.State == domain.StateAwaitingCategoryChoice {
		if _, known := e.catalog.Match(text); known {
			return text
		}
	}
	prompt, ok := e.statePrompt(s)
	if !ok || n > len(prompt.Buttons) {
		return text
	}
	return prompt.Buttons[n-1].ID
}

// parseTags splits a comma separated reply, trimming and dropping empty segments.
func parseTags(text string) []string {
	parts := strings.Split(text, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}
