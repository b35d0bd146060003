package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/text/unicode/norm"
)

// RenderJSON renders a plan, a stage list or a single document as indented
// relaxed Extended JSON. Keys keep their build order and every string is NFC
// normalized, so equal plans always render to identical bytes.
func RenderJSON(v any) ([]byte, error) {
	compact, err := renderCompact(v, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RenderCompact is RenderJSON without indentation, for logs and journals.
func RenderCompact(v any) (string, error) {
	b, err := renderCompact(v, false)
	return string(b), err
}

func renderCompact(v any, canonical bool) ([]byte, error) {
	doc, err := toDocument(v)
	if err != nil {
		return nil, err
	}
	return bson.MarshalExtJSON(normalize(doc), canonical, false)
}

func toDocument(v any) (bson.D, error) {
	switch val := v.(type) {
	case *ReadPlan:
		return readPlanDoc(val), nil
	case *WritePlan:
		return writePlanDoc(val), nil
	case []Stage:
		return bson.D{{Key: "pipeline", Value: stagesArray(val)}}, nil
	case bson.D:
		return val, nil
	default:
		return nil, fmt.Errorf("cannot render %T", v)
	}
}

func stagesArray(stages []Stage) bson.A {
	out := make(bson.A, len(stages))
	for i, s := range stages {
		out[i] = s
	}
	return out
}

func readPlanDoc(p *ReadPlan) bson.D {
	cols := make(bson.A, 0, len(p.Columns))
	for _, c := range p.Columns {
		d := bson.D{
			{Key: "name", Value: c.Name},
			{Key: "field", Value: c.Field},
			{Key: "type", Value: string(c.Type)},
		}
		if c.Pointer {
			d = append(d, bson.E{Key: "pointer", Value: true})
		}
		if c.PointerKey != "" {
			d = append(d, bson.E{Key: "pointer_key", Value: c.PointerKey})
		}
		if c.Hidden {
			d = append(d, bson.E{Key: "hidden", Value: true})
		}
		cols = append(cols, d)
	}
	return bson.D{
		{Key: "collection", Value: p.Collection},
		{Key: "pipeline", Value: stagesArray(p.Stages)},
		{Key: "columns", Value: cols},
	}
}

func writePlanDoc(p *WritePlan) bson.D {
	steps := make(bson.A, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, stepDoc(s))
	}
	return bson.D{
		{Key: "statement", Value: p.Statement},
		{Key: "table", Value: p.Table},
		{Key: "collection", Value: p.Collection},
		{Key: "steps", Value: steps},
	}
}

func stepDoc(s Step) bson.D {
	d := bson.D{
		{Key: "kind", Value: string(s.Kind)},
		{Key: "table", Value: s.Table},
		{Key: "collection", Value: s.Collection},
	}
	add := func(key string, v any, present bool) {
		if present {
			d = append(d, bson.E{Key: key, Value: v})
		}
	}
	add("filter", s.Filter, s.Filter != nil)
	add("document", s.Document, s.Document != nil)
	add("multi", s.Multi, s.Multi)
	add("array_filters", s.ArrayFilters, len(s.ArrayFilters) > 0)
	if len(s.Indexes) > 0 {
		idx := make(bson.A, 0, len(s.Indexes))
		for _, i := range s.Indexes {
			e := bson.D{{Key: "keys", Value: i.Keys}}
			if i.Name != "" {
				e = append(e, bson.E{Key: "name", Value: i.Name})
			}
			if i.Unique {
				e = append(e, bson.E{Key: "unique", Value: true})
			}
			idx = append(idx, e)
		}
		d = append(d, bson.E{Key: "indexes", Value: idx})
	}
	add("alias", s.Alias, s.Alias != "")
	add("stitch", s.Stitch, s.Stitch)
	add("row_path", s.RowPath, len(s.RowPath) > 0)
	add("source_table", s.SourceTable, s.SourceTable != "")
	add("source_collection", s.SourceCollection, s.SourceCollection != "")
	add("pointer_path", s.PointerPath, s.PointerPath != "")
	add("array_filter_path", s.ArrayFilterPath, s.ArrayFilterPath != "")
	add("key_paths", s.KeyPaths, len(s.KeyPaths) > 0)
	add("key_names", s.KeyNames, len(s.KeyNames) > 0)
	add("identity", s.Identity, s.Identity != nil)
	return d
}

// normalize NFC-normalizes every key and string value below v.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: norm.NFC.String(e.Key), Value: normalize(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = norm.NFC.String(e)
		}
		return out
	case bson.Regex:
		return bson.Regex{Pattern: norm.NFC.String(val.Pattern), Options: val.Options}
	default:
		return v
	}
}
