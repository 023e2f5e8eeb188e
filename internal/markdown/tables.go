// Package markdown repairs common formatting defects in generated report
// content, chiefly tables that embed their title as a one-cell first row.
package markdown

import (
	"fmt"
	"strings"
)

// FixTables scans markdown text for table blocks and repairs malformed ones.
// Non-table lines pass through untouched.
func FixTables(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	var fixed []string
	i := 0

	for i < len(lines) {
		if !isTableLine(lines[i]) {
			fixed = append(fixed, lines[i])
			i++
			continue
		}
		j := i
		for j < len(lines) && isTableLine(lines[j]) {
			j++
		}
		fixed = append(fixed, fixTableBlock(lines[i:j])...)
		i = j
	}

	return strings.Join(fixed, "\n")
}

func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

func splitCells(line string) []string {
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return nil
	}
	cells := make([]string, 0, len(parts)-2)
	for _, cell := range parts[1 : len(parts)-1] {
		cells = append(cells, strings.TrimSpace(cell))
	}
	return cells
}

func isSeparatorLine(line string) bool {
	content := strings.TrimSpace(strings.ReplaceAll(line, "|", ""))
	if content == "" {
		return false
	}
	for _, c := range content {
		if !strings.ContainsRune(":|- ", c) {
			return false
		}
	}
	return true
}

// fixTableBlock repairs a single run of table lines. The common defect is a
// one-cell title row sitting above the separator: the title gets extracted to
// a bold line above the table, and the header/separator order is restored.
func fixTableBlock(block []string) []string {
	if len(block) < 2 {
		return block
	}

	parsed := make([][]string, len(block))
	for idx, line := range block {
		parsed[idx] = splitCells(line)
	}

	separatorIndex := -1
	for idx, line := range block {
		if isSeparatorLine(line) {
			separatorIndex = idx
			break
		}
	}
	if separatorIndex == -1 {
		return block
	}
	separatorColumns := len(parsed[separatorIndex])

	if separatorIndex >= 1 && len(parsed[0]) == 1 && separatorColumns > 1 {
		title := parsed[0][0]
		fixed := []string{"", fmt.Sprintf("**%s**", title), ""}
		if separatorIndex == 1 && len(block) > 2 {
			// Rows after the title arrive as separator, header, data;
			// markdown wants header, separator, data.
			fixed = append(fixed, block[2], block[1])
			fixed = append(fixed, block[3:]...)
		} else {
			fixed = append(fixed, block[1:]...)
		}
		return fixed
	}

	if separatorIndex == 0 && len(parsed) > 1 && len(parsed[1]) == 1 && separatorColumns > 1 {
		title := parsed[1][0]
		fixed := []string{"", fmt.Sprintf("**%s**", title), ""}
		fixed = append(fixed, block[0])
		fixed = append(fixed, block[2:]...)
		return fixed
	}

	return block
}
