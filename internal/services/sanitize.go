package services

import "strings"

// sanitizeReplacer strips NUL bytes and the Unicode replacement codepoints
// U+FFFD/U+FFFF. PostgreSQL rejects text values with embedded NULs, and the
// remote API occasionally emits the replacement characters on mangled input.
var sanitizeReplacer = strings.NewReplacer("\x00", "", "�", "", "￿", "")

// SanitizeText removes characters the storage engine cannot persist
func SanitizeText(s string) string {
	return sanitizeReplacer.Replace(s)
}
