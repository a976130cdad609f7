package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for document ingestion.
// Only text-layer PDFs are supported; scanned-image formats need OCR, which
// is out of scope.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
