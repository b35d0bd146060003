package pipeline

import (
	"regexp"
	"strings"
)

// LikeToRegex translates a SQL LIKE pattern into an anchored regular
// expression. Interior % becomes .*, a leading or trailing % drops the
// corresponding anchor, and everything else matches literally.
func LikeToRegex(pattern string) string {
	openStart := strings.HasPrefix(pattern, "%")
	openEnd := len(pattern) > 0 && strings.HasSuffix(pattern, "%") && !(openStart && len(pattern) == 1)

	body := strings.TrimPrefix(pattern, "%")
	if openEnd {
		body = strings.TrimSuffix(body, "%")
	}

	parts := strings.Split(body, "%")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}

	var b strings.Builder
	if !openStart {
		b.WriteByte('^')
	}
	b.WriteString(strings.Join(parts, ".*"))
	if !openEnd && !(openStart && body == "") {
		b.WriteByte('$')
	}
	return b.String()
}
