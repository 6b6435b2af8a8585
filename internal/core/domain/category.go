package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Category struct {
	Name   string `yaml:"name"`
	Folder string `yaml:"folder"`
}

// CategoryCatalog is the known category set plus the fallback category.
type CategoryCatalog struct {
	Categories []Category
	Fallback   Category
}

func NewCategoryCatalog(categories []Category, fallback string) CategoryCatalog {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		folder := strings.TrimSpace(c.Folder)
		if folder == "" {
			folder = name
		}
		out = append(out, Category{Name: name, Folder: folder})
	}
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		fallback = "General"
	}
	return CategoryCatalog{
		Categories: out,
		Fallback:   Category{Name: fallback, Folder: fallback},
	}
}

// Names lists the selectable categories, fallback last.
func (c CategoryCatalog) Names() []string {
	names := make([]string, 0, len(c.Categories)+1)
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	if !c.hasCategory(c.Fallback.Name) {
		names = append(names, c.Fallback.Name)
	}
	return names
}

// Match returns the canonical category name for a case and accent insensitive match.
func (c CategoryCatalog) Match(value string) (string, bool) {
	key := FoldText(value)
	if key == "" {
		return "", false
	}
	for _, name := range c.Names() {
		if FoldText(name) == key {
			return name, true
		}
	}
	return "", false
}

// Normalize maps a category onto its known casing, or returns it verbatim.
func (c CategoryCatalog) Normalize(value string) string {
	if name, ok := c.Match(value); ok {
		return name
	}
	return strings.TrimSpace(value)
}

// FolderFor returns the archive folder name of a category; unknown categories use the fallback folder.
func (c CategoryCatalog) FolderFor(category string) string {
	name, ok := c.Match(category)
	if !ok {
		return c.Fallback.Folder
	}
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat.Folder
		}
	}
	return c.Fallback.Folder
}

func (c CategoryCatalog) hasCategory(name string) bool {
	for _, cat := range c.Categories {
		if FoldText(cat.Name) == FoldText(name) {
			return true
		}
	}
	return false
}

// FoldText lowercases, trims, collapses whitespace and strips diacritics.
func FoldText(value string) string {
	// Transformers carry state, so the chain is built per call.
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(chain, value)
	if err != nil {
		folded = value
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
