package pipeline

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/roach88/docrel/internal/scalar"
)

// DefaultServerVersion is assumed when Options.ServerVersion is empty.
const DefaultServerVersion = "6.0"

// First backend versions understanding $literal and update arrayFilters.
const (
	literalSince      = "v2.6"
	arrayFiltersSince = "v3.6"
)

// Options configures a compile.
type Options struct {
	// ServerVersion is the backend version, e.g. "4.4" or "v6.0.3".
	ServerVersion string
	// Converter turns literals into backend scalars.
	Converter scalar.Converter
}

func (o Options) withDefaults() Options {
	if o.ServerVersion == "" {
		o.ServerVersion = DefaultServerVersion
	}
	if o.Converter == nil {
		o.Converter = scalar.Default()
	}
	return o
}

// canonicalVersion maps "4.4" to "v4.4" for semver comparison.
func (o Options) canonicalVersion() string {
	v := o.ServerVersion
	if v == "" {
		v = DefaultServerVersion
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// SupportsLiteral reports whether projected literals can be wrapped in
// $literal. Unparseable versions are treated as capable.
func (o Options) SupportsLiteral() bool {
	return o.atLeast(literalSince)
}

// SupportsArrayFilters reports whether updates may use $[name] positional
// operators.
func (o Options) SupportsArrayFilters() bool {
	return o.atLeast(arrayFiltersSince)
}

func (o Options) atLeast(min string) bool {
	v := o.canonicalVersion()
	if !semver.IsValid(v) {
		return true
	}
	return semver.Compare(v, min) >= 0
}
