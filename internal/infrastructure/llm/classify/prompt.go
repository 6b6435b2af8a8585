package classify

import (
	"fmt"
	"strings"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// OtherCategory is offered to the model when nothing in the catalog fits.
const OtherCategory = "Otra"

const maxExcerptRunes = 4000

func buildPrompt(catalog domain.CategoryCatalog, filename, mimeType, excerpt string) string {
	var b strings.Builder
	b.WriteString("Please classify the provided media into one of the following categories:\n")
	for _, cat := range catalog.Categories {
		b.WriteString("- " + cat.Name + "\n")
	}
	b.WriteString("- " + OtherCategory + " (Specify if none of the above fit)\n")
	b.WriteString(`Provide the category name exactly as listed, a confidence score (0.0-1.0), and a brief justification. ` +
		`Format the response as a JSON object like: {"category": "CATEGORY_NAME", "confidence": 0.X, "justification": "Brief reason..."}` + "\n")

	fmt.Fprintf(&b, "\nFile name: %s\nMime type: %s\n", filename, mimeType)
	if excerpt = truncateRunes(strings.TrimSpace(excerpt), maxExcerptRunes); excerpt != "" {
		b.WriteString("\nExtracted content:\n")
		b.WriteString(excerpt)
		b.WriteString("\n")
	}
	return b.String()
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
