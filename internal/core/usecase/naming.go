package usecase

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var extensionsByMimeType = map[string]string{
	"image/jpeg":                    ".jpg",
	"image/png":                     ".png",
	"image/webp":                    ".webp",
	"image/gif":                     ".gif",
	"video/mp4":                     ".mp4",
	"video/3gpp":                    ".3gp",
	"audio/ogg":                     ".ogg",
	"audio/mpeg":                    ".mp3",
	"audio/mp4":                     ".m4a",
	"audio/aac":                     ".aac",
	"audio/amr":                     ".amr",
	"text/plain":                    ".txt",
	"text/csv":                      ".csv",
	"application/pdf":               ".pdf",
	"application/msword":            ".doc",
	"application/vnd.ms-excel":      ".xls",
	"application/vnd.ms-powerpoint": ".ppt",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
}

// baseMimeType drops parameters such as "; codecs=opus".
func baseMimeType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// mimeSubtype returns the subtype of a mimetype when it is usable as an extension.
func mimeSubtype(mimeType string) string {
	_, sub, ok := strings.Cut(baseMimeType(mimeType), "/")
	if !ok || sub == "" || len(sub) > 8 {
		return ""
	}
	for _, r := range sub {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return sub
}

// fileExtension returns the extension of name when it looks like one: one to
// eight ASCII letters or digits after the last dot, with a non-empty stem.
// "v1.2 notes" has none.
func fileExtension(name string) string {
	ext := filepath.Ext(name)
	if len(ext) < 2 || len(ext) > 9 || ext == name {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// inferExtension prefers the original file's extension, then the mimetype.
func inferExtension(originalName, mimeType string) string {
	if ext := fileExtension(originalName); ext != "" {
		return ext
	}
	if ext, ok := extensionsByMimeType[baseMimeType(mimeType)]; ok {
		return ext
	}
	if sub := mimeSubtype(mimeType); sub != "" {
		return "." + sub
	}
	return ".bin"
}

func hasExtension(name string) bool {
	return fileExtension(name) != ""
}

// customFileName keeps a name with an extension verbatim and appends the inferred one otherwise.
func customFileName(custom, originalName, mimeType string) string {
	custom = strings.TrimSpace(custom)
	if hasExtension(custom) {
		return custom
	}
	return custom + inferExtension(originalName, mimeType)
}

// autoNamePrefix uses the calendar date of now in its own location; callers
// pass a time already converted to the archive's time zone.
func autoNamePrefix(category string, now time.Time) string {
	return fmt.Sprintf("%s_%s_", category, now.Format("20060102"))
}

// autoFileName is <category>_<YYYYMMDD>_<seq><ext>.
func autoFileName(category string, now time.Time, seq int, ext string) string {
	return fmt.Sprintf("%s%04d%s", autoNamePrefix(category, now), seq, ext)
}

// nextSequence returns the sequence after the highest one already used with prefix.
func nextSequence(existing []string, prefix string) int {
	highest := 0
	for _, name := range existing {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		digits := strings.TrimSuffix(rest, filepath.Ext(rest))
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}
