package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// marshalDoc converts a document to canonical Extended JSON TEXT.
func marshalDoc(d bson.D) (string, error) {
	if d == nil {
		d = bson.D{}
	}
	data, err := bson.MarshalExtJSON(d, true, false)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// marshalValue stores a non-document value wrapped as {"v": value}.
func marshalValue(v any) (string, error) {
	return marshalDoc(bson.D{{Key: "v", Value: v}})
}

func unmarshalDoc(data string) (bson.D, error) {
	if data == "" {
		return bson.D{}, nil
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(data), true, &d); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return d, nil
}

func unmarshalValue(data string) (any, error) {
	d, err := unmarshalDoc(data)
	if err != nil {
		return nil, err
	}
	for _, e := range d {
		if e.Key == "v" {
			return e.Value, nil
		}
	}
	return nil, nil
}

func unmarshalArray(data string) (bson.A, error) {
	v, err := unmarshalValue(data)
	if err != nil || v == nil {
		return nil, err
	}
	a, ok := v.(bson.A)
	if !ok {
		return nil, fmt.Errorf("unmarshal array filters: got %T", v)
	}
	return a, nil
}
