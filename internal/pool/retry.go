package pool

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Structured retry fields, consulted in order.
var structuredHintPaths = []string{"retryDelay", "quotaResetDelay", "retry_after"}

var textHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in\s+(?:(\d+)\s*m(?:in(?:utes?)?)?\s*)?(\d+(?:\.\d+)?)\s*s`),
	regexp.MustCompile(`(?i)wait\s+(\d+(?:\.\d+)?)\s*s(?:econds?)?`),
	regexp.MustCompile(`(?i)retry after\s+(\d+(?:\.\d+)?)\s*s(?:econds?)?`),
}

// ParseRetryHint extracts a server-suggested cooldown from an upstream error
// body. Structured fields win over prose; the result is in milliseconds.
//
// Parameters:
//   - body: The raw upstream error body
//
// Returns:
//   - int64: The cooldown in milliseconds
//   - bool: Whether a hint was found
func ParseRetryHint(body string) (int64, bool) {
	if gjson.Valid(body) {
		root := gjson.Parse(body)
		for _, path := range structuredHintPaths {
			if ms, ok := findDelayField(root, path); ok {
				return ms, true
			}
		}
	}
	for _, pattern := range textHintPatterns {
		match := pattern.FindStringSubmatch(body)
		if match == nil {
			continue
		}
		var total float64
		if len(match) == 3 && match[1] != "" {
			minutes, _ := strconv.ParseFloat(match[1], 64)
			total += minutes * 60
		}
		seconds, _ := strconv.ParseFloat(match[len(match)-1], 64)
		total += seconds
		if total > 0 {
			return int64(total * 1000), true
		}
	}
	return 0, false
}

// findDelayField searches the JSON tree depth-first for a key and converts
// its value to milliseconds. Values may be durations ("30s") or numeric
// seconds.
func findDelayField(node gjson.Result, key string) (int64, bool) {
	if value := node.Get(key); value.Exists() {
		if ms, ok := toMilliseconds(value); ok {
			return ms, true
		}
	}
	var found int64
	ok := false
	node.ForEach(func(_, child gjson.Result) bool {
		if !child.IsObject() && !child.IsArray() {
			return true
		}
		if ms, hit := findDelayField(child, key); hit {
			found, ok = ms, true
			return false
		}
		return true
	})
	return found, ok
}

func toMilliseconds(value gjson.Result) (int64, bool) {
	switch value.Type {
	case gjson.Number:
		seconds := value.Float()
		if seconds <= 0 {
			return 0, false
		}
		return int64(seconds * 1000), true
	case gjson.String:
		text := strings.TrimSpace(value.String())
		if duration, err := time.ParseDuration(text); err == nil && duration > 0 {
			return duration.Milliseconds(), true
		}
		if seconds, err := strconv.ParseFloat(text, 64); err == nil && seconds > 0 {
			return int64(seconds * 1000), true
		}
	}
	return 0, false
}
