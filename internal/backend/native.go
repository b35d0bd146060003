package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// NativeQuery is a raw aggregation passed through without compilation.
type NativeQuery struct {
	Collection string
	Stages     []bson.D
}

// ParseNative parses "collection;stage;stage..." where each stage is an
// Extended JSON document. Placeholders $1..$n are replaced by args before
// parsing; the longest run of digits names the argument, so $10 is never
// read as $1 followed by 0. A quoted placeholder ("$1") is replaced
// together with its quotes. Placeholders past the last argument are left
// as written.
func ParseNative(text string, args ...any) (NativeQuery, error) {
	parts, err := splitStages(text)
	if err != nil {
		return NativeQuery{}, err
	}
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return NativeQuery{}, errors.New("native query: missing collection name")
	}

	q := NativeQuery{Collection: strings.TrimSpace(parts[0])}
	for i, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		raw, err = substitute(raw, args)
		if err != nil {
			return NativeQuery{}, err
		}
		var stage bson.D
		if err := bson.UnmarshalExtJSON([]byte(raw), false, &stage); err != nil {
			return NativeQuery{}, fmt.Errorf("native query: stage %d: %w", i+1, err)
		}
		q.Stages = append(q.Stages, stage)
	}
	return q, nil
}

// Run executes the query against d.
func (q NativeQuery) Run(ctx context.Context, d Driver) ([]bson.D, error) {
	cur, err := d.Collection(q.Collection).Aggregate(ctx, q.Stages)
	if err != nil {
		return nil, err
	}
	return All(ctx, cur)
}

// splitStages splits on semicolons outside string literals and documents.
func splitStages(text string) ([]string, error) {
	var (
		parts  []string
		cur    strings.Builder
		depth  int
		quoted bool
		escape bool
	)
	for _, r := range text {
		switch {
		case escape:
			escape = false
		case quoted && r == '\\':
			escape = true
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '{' || r == '[':
			depth++
		case r == '}' || r == ']':
			depth--
			if depth < 0 {
				return nil, errors.New("native query: unbalanced brackets")
			}
		case r == ';' && depth == 0:
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if quoted || depth != 0 {
		return nil, errors.New("native query: unterminated string or document")
	}
	return append(parts, cur.String()), nil
}

var placeholder = regexp.MustCompile(`"\$(\d+)"|\$(\d+)`)

// substitute replaces placeholders in one pass over stage, so an argument
// that itself reads like a placeholder stays literal.
func substitute(stage string, args []any) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(stage, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		digits := sub[1] + sub[2]
		i, err := strconv.Atoi(digits)
		if err != nil || i < 1 || i > len(args) {
			return m
		}
		enc, err := encodeArg(args[i-1])
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("native query: argument %d: %w", i, err)
			}
			return m
		}
		return enc
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// encodeArg renders v as a relaxed Extended JSON value.
func encodeArg(v any) (string, error) {
	data, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(data))
	s = strings.TrimPrefix(s, `{"v":`)
	s = strings.TrimSuffix(s, "}")
	return s, nil
}
