package backend

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// SliceCursor iterates documents already in memory.
type SliceCursor struct {
	docs []bson.D
	idx  int
	cur  bson.D
}

// NewSliceCursor returns a cursor over docs.
func NewSliceCursor(docs []bson.D) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(context.Context) bool {
	if c.idx >= len(c.docs) {
		c.cur = nil
		return false
	}
	c.cur = c.docs[c.idx]
	c.idx++
	return true
}

// Decode stores the current document into v, which must be a *bson.D or a
// type the document can be unmarshaled into.
func (c *SliceCursor) Decode(v any) error {
	if c.cur == nil {
		return errors.New("decode: no current document")
	}
	if d, ok := v.(*bson.D); ok {
		*d = c.cur
		return nil
	}
	data, err := bson.Marshal(c.cur)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return bson.Unmarshal(data, v)
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close(context.Context) error {
	c.idx = len(c.docs)
	return nil
}
