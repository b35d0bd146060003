package pipeline

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/docrel/internal/docerr"
)

// functionAliases maps relational function names to aggregation operators
// taking the same argument list.
var functionAliases = map[string]string{
	"+":           "$add",
	"add":         "$add",
	"-":           "$subtract",
	"subtract":    "$subtract",
	"*":           "$multiply",
	"multiply":    "$multiply",
	"/":           "$divide",
	"divide":      "$divide",
	"%":           "$mod",
	"mod":         "$mod",
	"concat":      "$concat",
	"lower":       "$toLower",
	"lcase":       "$toLower",
	"upper":       "$toUpper",
	"ucase":       "$toUpper",
	"length":      "$strLenCP",
	"char_length": "$strLenCP",
	"year":        "$year",
	"month":       "$month",
	"day":         "$dayOfMonth",
	"dayofmonth":  "$dayOfMonth",
	"dayofweek":   "$dayOfWeek",
	"dayofyear":   "$dayOfYear",
	"hour":        "$hour",
	"minute":      "$minute",
	"second":      "$second",
	"abs":         "$abs",
	"ceil":        "$ceil",
	"ceiling":     "$ceil",
	"floor":       "$floor",
	"round":       "$round",
	"sqrt":        "$sqrt",
	"pow":         "$pow",
	"power":       "$pow",
	"exp":         "$exp",
	"ln":          "$ln",
	"log10":       "$log10",
	"ifnull":      "$ifNull",
	"coalesce":    "$ifNull",
}

// unaryOperators take their single argument without an array wrapper.
var unaryOperators = map[string]bool{
	"$toLower": true, "$toUpper": true, "$strLenCP": true,
	"$year": true, "$month": true, "$dayOfMonth": true, "$dayOfWeek": true, "$dayOfYear": true,
	"$hour": true, "$minute": true, "$second": true,
	"$abs": true, "$ceil": true, "$floor": true, "$sqrt": true, "$exp": true, "$ln": true, "$log10": true,
}

// geoOperators are query operators built from positional arguments:
// near(col, lng, lat, max), within(col, type, coordinates),
// intersects(col, type, coordinates).
var geoOperators = map[string]string{
	"near":        "$near",
	"nearsphere":  "$nearSphere",
	"near_sphere": "$nearSphere",
	"within":      "$geoWithin",
	"geowithin":   "$geoWithin",
	"intersects":  "$geoIntersects",
}

// earthRadiusMeters converts a distance in meters to the radians
// $centerSphere takes.
const earthRadiusMeters = 6378100.0

func isGeoFunction(name string) bool {
	_, ok := geoOperators[strings.ToLower(name)]
	return ok
}

// functionValue translates a non-geo function call over compiled arguments.
func functionValue(name string, args []fragment) (any, error) {
	lname := strings.ToLower(name)
	if lname == "substring" || lname == "substr" {
		return substringValue(args)
	}
	op, ok := functionAliases[lname]
	if !ok {
		return nil, docerr.ErrUnknownFunction.New(name)
	}
	if unaryOperators[op] && len(args) == 1 {
		return bson.D{{Key: op, Value: args[0].value}}, nil
	}
	vals := make(bson.A, len(args))
	for i, a := range args {
		vals[i] = a.value
	}
	return bson.D{{Key: op, Value: vals}}, nil
}

// substringValue converts the 1-based SQL start position to the 0-based
// code point offset of $substrCP.
func substringValue(args []fragment) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, docerr.ErrUnsupportedExpression.New(args, "substring")
	}
	var start any
	if args[1].literal {
		switch n := args[1].value.(type) {
		case int64:
			start = n - 1
		case int:
			start = n - 1
		case int32:
			start = n - 1
		default:
			start = bson.D{{Key: "$subtract", Value: bson.A{args[1].value, 1}}}
		}
	} else {
		start = bson.D{{Key: "$subtract", Value: bson.A{args[1].value, 1}}}
	}
	length := any(bson.D{{Key: "$strLenCP", Value: args[0].value}})
	if len(args) == 3 {
		length = args[2].value
	}
	return bson.D{{Key: "$substrCP", Value: bson.A{args[0].value, start, length}}}, nil
}

// geoQuery builds the query document of a geospatial predicate.
func geoQuery(name string, args []fragment) (bson.D, error) {
	op := geoOperators[strings.ToLower(name)]
	if len(args) == 0 || args[0].binding == nil {
		return nil, docerr.ErrUnresolvedOperand.New(name, nil)
	}
	path := args[0].path
	for _, a := range args[1:] {
		if !a.literal {
			return nil, docerr.ErrUnsupportedExpression.New(a.value, name+" argument")
		}
	}

	switch op {
	case "$near", "$nearSphere":
		// $match rejects $near and $nearSphere, so a near predicate becomes
		// a $centerSphere region. Results are not ordered by distance.
		if len(args) != 4 {
			return nil, docerr.ErrUnsupportedExpression.New(len(args), name+" arity")
		}
		meters, ok := number(args[3].value)
		if !ok || meters < 0 {
			return nil, docerr.ErrUnsupportedExpression.New(args[3].value, name+" distance")
		}
		sphere := bson.A{bson.A{args[1].value, args[2].value}, meters / earthRadiusMeters}
		return bson.D{{Key: path, Value: bson.D{{Key: "$geoWithin", Value: bson.D{{Key: "$centerSphere", Value: sphere}}}}}}, nil
	default:
		if len(args) != 3 {
			return nil, docerr.ErrUnsupportedExpression.New(len(args), name+" arity")
		}
		geometry := bson.D{
			{Key: "type", Value: args[1].value},
			{Key: "coordinates", Value: args[2].value},
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: bson.D{{Key: "$geometry", Value: geometry}}}}}}, nil
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
