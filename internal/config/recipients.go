package config

import (
	"errors"
	"strconv"
	"strings"
)

// ParseRecipients splits raw on commas and parses each trimmed, non-empty
// segment as a base-10 chat id. Single underscores between digits are allowed
// ("1_000"). Malformed segments are returned in skipped; ids keeps the original
// order and duplicates.
func ParseRecipients(raw string) (ids []int64, skipped []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := parseChatID(part)
		if err != nil {
			skipped = append(skipped, part)
			continue
		}
		ids = append(ids, id)
	}
	return ids, skipped
}

var errBadSeparator = errors.New("misplaced digit separator")

// parseChatID parses a signed decimal id, dropping underscores that sit
// between two digits.
func parseChatID(s string) (int64, error) {
	if !strings.Contains(s, "_") {
		return strconv.ParseInt(s, 10, 64)
	}
	digits := strings.TrimLeft(s, "+-")
	if len(s)-len(digits) > 1 {
		return 0, errBadSeparator
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] != '_' {
			continue
		}
		if i == 0 || i == len(digits)-1 || !isDigit(digits[i-1]) || !isDigit(digits[i+1]) {
			return 0, errBadSeparator
		}
	}
	return strconv.ParseInt(strings.ReplaceAll(s, "_", ""), 10, 64)
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }
