package usecase

import (
	"fmt"
	"math"
	"strings"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

const (
	msgInvalidReply        = "No entendí tu respuesta."
	msgUploadReminder      = "Por favor, envía un archivo que quieras guardar o escribe 'cancelar'."
	msgExitAck             = "Operación cancelada. Envía un archivo cuando quieras."
	msgCancelAck           = "Subida cancelada para el archivo actual."
	msgBatchComplete       = "Todos los archivos han sido procesados. Puedes enviar más archivos cuando quieras."
	msgCommentBody         = "Escribe tu comentario:"
	msgInternalError       = "Ocurrió un error interno procesando tu mensaje. Intenta de nuevo en unos minutos."
	msgMissingActiveEntry  = "No encontré el archivo en proceso. Envíalo de nuevo, por favor."
	msgRenameQuestion      = "¿Quieres renombrar el archivo antes de subirlo?"
	msgCategoryQuestion    = "Por favor, elige una categoría:"
	msgCommentsQuestion    = "¿Quieres añadir algún comentario adicional al archivo?"
	msgTagsQuestion        = "¿Quieres añadir etiquetas (separadas por coma) al archivo? (Ej: importante, clienteX, proyectoY) o escribe 'No añadir etiquetas'"
	msgLowConfidenceNotice = "⚠️ La confianza es baja, revisa la categoría con atención."
)

func cancelButton() domain.Button {
	return domain.Button{ID: replyCancelUpload, Title: replyCancelUpload}
}

func textMessage(format string, args ...any) domain.OutboundMessage {
	return domain.OutboundMessage{Text: fmt.Sprintf(format, args...)}
}

func greetingMessages(catalog domain.CategoryCatalog) []domain.OutboundMessage {
	return []domain.OutboundMessage{
		{Text: "👋 ¡Hola! Bienvenido."},
		{Text: "Puedes enviarme archivos (imágenes, documentos, videos o audios) y los clasificaré y guardaré en la categoría que elijas."},
		{Text: "Actualmente, puedo organizar en estas categorías:\n- " + strings.Join(catalog.Names(), "\n- ")},
		{Text: "Simplemente envía un archivo para comenzar. Si envías varios, los procesaré uno por uno en el orden en que lleguen."},
	}
}

// statePrompt renders the question the user must answer in the session's current state.
func (e *Engine) statePrompt(s domain.Session) (domain.OutboundMessage, bool) {
	entry, _ := s.ActiveEntry()
	switch s.State {
	case domain.StateAwaitingFileUpload:
		return domain.OutboundMessage{Text: msgUploadReminder}, true
	case domain.StateAwaitingClassificationConfirmation:
		cls := s.Scratch.Classification
		if cls == nil {
			return domain.OutboundMessage{}, false
		}
		return e.suggestionPrompt(entry, *cls), true
	case domain.StateAwaitingCategoryChoice:
		buttons := make([]domain.Button, 0, len(e.catalog.Names())+1)
		for _, name := range e.catalog.Names() {
			buttons = append(buttons, domain.Button{ID: name, Title: name})
		}
		buttons = append(buttons, cancelButton())
		return domain.OutboundMessage{Text: msgCategoryQuestion, Buttons: buttons}, true
	case domain.StateAwaitingRenameConfirmation:
		return domain.OutboundMessage{
			Text: msgRenameQuestion,
			Buttons: []domain.Button{
				{ID: replyRename, Title: replyRename},
				{ID: replyAutoName, Title: replyAutoName},
				cancelButton(),
			},
		}, true
	case domain.StateAwaitingCustomFileName:
		return domain.OutboundMessage{
			Text: fmt.Sprintf(
				"Ok, ¿qué nombre le quieres poner al archivo? Si no incluyes la extensión usaré '%s'.",
				inferExtension(entry.OriginalName, entry.MimeType),
			),
			Buttons: []domain.Button{cancelButton()},
		}, true
	case domain.StateAwaitingTags:
		return domain.OutboundMessage{
			Text:    msgTagsQuestion,
			Buttons: []domain.Button{{ID: replySkipTags, Title: replySkipTags}, cancelButton()},
		}, true
	case domain.StateAwaitingComments:
		if s.Scratch.CommentRequested {
			return domain.OutboundMessage{Text: msgCommentBody, Buttons: []domain.Button{cancelButton()}}, true
		}
		return domain.OutboundMessage{
			Text: msgCommentsQuestion,
			Buttons: []domain.Button{
				{ID: replyAddComment, Title: replyAddComment},
				{ID: replyNoComment, Title: replyNoComment},
				cancelButton(),
			},
		}, true
	default:
		return domain.OutboundMessage{}, false
	}
}

func (e *Engine) suggestionPrompt(entry domain.QueueEntry, cls domain.ClassificationResult) domain.OutboundMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Sugerencia de IA para '%s':\n", entry.OriginalName)
	fmt.Fprintf(&b, "Categoría: *%s*\n", cls.Category)
	fmt.Fprintf(&b, "Confianza: %d%%\n", int(math.Round(cls.Confidence*100)))
	fmt.Fprintf(&b, "Justificación: %s\n", cls.Justification)
	if cls.Confidence < e.opts.ConfidenceThreshold {
		b.WriteString(msgLowConfidenceNotice + "\n")
	}
	b.WriteString("\n¿Es correcta esta categoría?")

	accept := replyAcceptPrefix + cls.Category
	return domain.OutboundMessage{
		Text: b.String(),
		Buttons: []domain.Button{
			{ID: accept, Title: accept},
			{ID: replyChooseOther, Title: replyChooseOther},
			cancelButton(),
		},
	}
}
