package rule

import (
	"fmt"
	"slices"
	"strings"
)

// Kind classifies a validation failure.
type Kind string

const (
	MalformedRule    Kind = "MalformedRule"
	PastFireTime     Kind = "PastFireTime"
	InvalidQuantity  Kind = "InvalidQuantity"
	MissingSelection Kind = "MissingSelection"
)

// Message keys, resolved by the humanize locale bundles.
const (
	KeyMalformed       = "validation.malformedRule"
	KeyPastFireTime    = "validation.pastFireTime"
	KeyInvalidQuantity = "validation.invalidQuantity"
	KeyRequired        = "validation.required"
	KeyOutOfRange      = "validation.outOfRange"
	KeyTooManySchedule = "validation.tooManySchedules"
)

// ValidationError is a single field-tagged failure.
type ValidationError struct {
	Path    string
	Kind    Kind
	Key     string
	Message string
}

func (e ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors aggregates every failure of one validation run.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	switch len(es) {
	case 0:
		return "no validation errors"
	case 1:
		return es[0].Error()
	}
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(es), strings.Join(parts, "; "))
}

// Err returns es as an error, or nil when empty.
func (es ValidationErrors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Has reports whether any error has the given kind.
func (es ValidationErrors) Has(kind Kind) bool {
	for _, e := range es {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// At returns the errors reported for path. A path also matches when it is the
// suffix of a longer one, so "date.weekDays" finds "complex.date.weekDays".
func (es ValidationErrors) At(path string) ValidationErrors {
	var out ValidationErrors
	for _, e := range es {
		if e.Path == path || strings.HasSuffix(e.Path, "."+path) {
			out = append(out, e)
		}
	}
	return out
}

// ByPath groups message keys by field path, the shape form renderers consume.
func (es ValidationErrors) ByPath() map[string][]string {
	out := make(map[string][]string, len(es))
	for _, e := range es {
		out[e.Path] = append(out[e.Path], e.Key)
	}
	return out
}

// Prefix returns a copy with every path nested under prefix.
func (es ValidationErrors) Prefix(prefix string) ValidationErrors {
	if prefix == "" {
		return es
	}
	out := make(ValidationErrors, len(es))
	for i, e := range es {
		e.Path = joinPath(prefix, e.Path)
		out[i] = e
	}
	return out
}

type collector struct {
	errs ValidationErrors
}

func (c *collector) add(path string, kind Kind, key, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{
		Path:    path,
		Kind:    kind,
		Key:     key,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *collector) missing(path string) {
	c.add(path, MissingSelection, KeyRequired, "is required")
}

func (c *collector) malformed(path, format string, args ...any) {
	c.add(path, MalformedRule, KeyMalformed, format, args...)
}

func (c *collector) merge(es ValidationErrors) {
	c.errs = append(c.errs, es...)
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	}
	return prefix + "." + path
}

// sortErrs orders errors by path so map-driven checks report deterministically.
func sortErrs(es ValidationErrors) ValidationErrors {
	slices.SortStableFunc(es, func(a, b ValidationError) int {
		return strings.Compare(a.Path, b.Path)
	})
	return es
}
