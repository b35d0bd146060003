package ir

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Lookup returns the value at a dotted field path of doc. Numeric segments
// index into arrays.
func Lookup(doc bson.D, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case bson.D:
			found := false
			for _, e := range v {
				if e.Key == seg {
					cur, found = e.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		case bson.M:
			x, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = x
		case bson.A:
			i, ok := index(seg, len(v))
			if !ok {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set returns doc with value stored at a dotted path, creating intermediate
// documents as needed. Existing keys keep their position.
func Set(doc bson.D, path string, value any) bson.D {
	seg, rest, nested := strings.Cut(path, ".")
	for i, e := range doc {
		if e.Key != seg {
			continue
		}
		if !nested {
			doc[i].Value = value
			return doc
		}
		child, _ := e.Value.(bson.D)
		doc[i].Value = Set(child, rest, value)
		return doc
	}
	if !nested {
		return append(doc, bson.E{Key: seg, Value: value})
	}
	return append(doc, bson.E{Key: seg, Value: Set(nil, rest, value)})
}

func index(seg string, n int) (int, bool) {
	if seg == "" {
		return 0, false
	}
	i := 0
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
		i = i*10 + int(r-'0')
	}
	return i, i < n
}

// Clone deep-copies the documents and arrays of doc. Scalars are shared.
func Clone(doc bson.D) bson.D {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(bson.D)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case bson.M:
		out := make(bson.M, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
