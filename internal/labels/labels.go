// Package labels recovers human-readable column captions from a Windows
// Inspect dump of the simulator UI. The dump is organized in [key] sections,
// one per control; tabular controls carry a Table.ColumnHeaders attribute or
// a Children list ending in `" header` entries. Labels are display-only and
// never influence orchestration.
package labels

import (
	"fmt"
	"strings"
)

const headerSuffix = `" header`

// ParseDump extracts per-control column headers from dump text. Controls
// without recoverable headers are absent from the result.
func ParseDump(text string) map[string][]string {
	result := make(map[string][]string)
	for key, body := range splitSections(text) {
		if headers := headersFromSection(body); len(headers) > 0 {
			result[key] = headers
		}
	}
	return result
}

// splitSections partitions the dump into [key] section bodies.
func splitSections(text string) map[string][]string {
	sections := make(map[string][]string)
	var current string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			current = trimmed[1 : len(trimmed)-1]
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	return sections
}

func headersFromSection(lines []string) []string {
	if block := attributeBlock(lines, "Table.ColumnHeaders:"); block != nil {
		return cleanHeaders(quotedStrings(block))
	}
	if block := attributeBlock(lines, "Children:"); block != nil {
		return cleanHeaders(headersFromChildren(block))
	}
	return nil
}

// attributeBlock returns the lines belonging to the named attribute: from
// its marker up to the next attribute line (capitalized word followed by a
// colon). Nil when the attribute is absent.
func attributeBlock(lines []string, marker string) []string {
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), marker) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	block := []string{strings.TrimPrefix(strings.TrimSpace(lines[start]), marker)}
	for _, line := range lines[start+1:] {
		if isAttributeLine(line) {
			break
		}
		block = append(block, line)
	}
	return block
}

func isAttributeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	colon := strings.IndexByte(trimmed, ':')
	if colon <= 0 {
		return false
	}
	first := trimmed[0]
	return first >= 'A' && first <= 'Z'
}

func quotedStrings(lines []string) []string {
	var values []string
	for _, line := range lines {
		rest := line
		for {
			open := strings.IndexByte(rest, '"')
			if open < 0 {
				break
			}
			rest = rest[open+1:]
			close := strings.IndexByte(rest, '"')
			if close < 0 {
				break
			}
			if value := rest[:close]; value != "" {
				values = append(values, value)
			}
			rest = rest[close+1:]
		}
	}
	return values
}

// headersFromChildren recovers captions from a Children list. Entries ending
// in `" header` close a caption; preceding continuation lines are wrapped
// caption text and join with a space.
func headersFromChildren(lines []string) []string {
	var headers []string
	var pending []string
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if strings.HasSuffix(stripped, headerSuffix) {
			core := strings.Trim(strings.TrimSuffix(stripped, headerSuffix), `"`)
			if len(pending) > 0 {
				pending = append(pending, core)
				headers = append(headers, strings.Join(pending, " "))
				pending = nil
			} else {
				headers = append(headers, core)
			}
			continue
		}
		pending = append(pending, strings.Trim(stripped, `"`))
	}
	if len(pending) > 0 {
		headers = append(headers, strings.Join(pending, " "))
	}
	return headers
}

// cleanHeaders collapses internal whitespace and drops blank entries.
func cleanHeaders(raw []string) []string {
	var headers []string
	for _, value := range raw {
		cleaned := strings.Join(strings.Fields(value), " ")
		if cleaned != "" {
			headers = append(headers, cleaned)
		}
	}
	return headers
}

// Reconcile fits headers to a row width: missing columns get positional
// names, surplus headers are dropped.
func Reconcile(headers []string, width int) []string {
	fitted := make([]string, 0, width)
	for i := 0; i < width; i++ {
		if i < len(headers) {
			fitted = append(fitted, headers[i])
		} else {
			fitted = append(fitted, fmt.Sprintf("Column %d", i))
		}
	}
	return fitted
}
