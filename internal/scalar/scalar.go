// Package scalar converts values between the relational type system and
// document-storable scalars.
package scalar

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/relast"
)

// Converter is the injected conversion collaborator. ToBackend is applied
// to every literal the compilers emit; FromBackend to every returned field.
type Converter interface {
	ToBackend(v any, t relast.ColumnType) (any, error)
	FromBackend(v any, t relast.ColumnType) (any, error)
}

// Default returns the built-in converter.
func Default() Converter {
	return defaultConverter{}
}

type defaultConverter struct{}

func (defaultConverter) ToBackend(v any, t relast.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case relast.TypeString, relast.TypeClob:
		return cast.ToStringE(v)
	case relast.TypeInt:
		return cast.ToInt64E(v)
	case relast.TypeFloat:
		return cast.ToFloat64E(v)
	case relast.TypeBool:
		return cast.ToBoolE(v)
	case relast.TypeDecimal:
		if d, ok := v.(bson.Decimal128); ok {
			return d, nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return bson.ParseDecimal128(s)
	case relast.TypeDate, relast.TypeTimestamp:
		if d, ok := v.(bson.DateTime); ok {
			return d, nil
		}
		ts, err := cast.ToTimeE(v)
		if err != nil {
			return nil, err
		}
		if t == relast.TypeDate {
			ts = ts.UTC().Truncate(24 * time.Hour)
		}
		return bson.NewDateTimeFromTime(ts), nil
	case relast.TypeBinary, relast.TypeBlob:
		switch b := v.(type) {
		case bson.Binary:
			return b, nil
		case []byte:
			return bson.Binary{Data: b}, nil
		case string:
			return bson.Binary{Data: []byte(b)}, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to %s", v, t)
		}
	case relast.TypeGeometry, relast.TypeArray, relast.TypeObject, "":
		return v, nil
	default:
		return nil, fmt.Errorf("unknown column type %q", t)
	}
}

func (defaultConverter) FromBackend(v any, t relast.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case relast.TypeString, relast.TypeClob:
		return cast.ToStringE(v)
	case relast.TypeInt:
		return cast.ToInt64E(v)
	case relast.TypeFloat:
		if d, ok := v.(bson.Decimal128); ok {
			return cast.ToFloat64E(d.String())
		}
		return cast.ToFloat64E(v)
	case relast.TypeBool:
		return cast.ToBoolE(v)
	case relast.TypeDecimal:
		if d, ok := v.(bson.Decimal128); ok {
			return d.String(), nil
		}
		return cast.ToStringE(v)
	case relast.TypeDate, relast.TypeTimestamp:
		if d, ok := v.(bson.DateTime); ok {
			return d.Time().UTC(), nil
		}
		return cast.ToTimeE(v)
	case relast.TypeBinary, relast.TypeBlob:
		switch b := v.(type) {
		case bson.Binary:
			return b.Data, nil
		case []byte:
			return b, nil
		default:
			return nil, fmt.Errorf("cannot read %T as %s", v, t)
		}
	case relast.TypeArray:
		if a, ok := v.(bson.A); ok {
			return []any(a), nil
		}
		return v, nil
	default:
		return v, nil
	}
}
