package holey

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
)

// A Filter chooses fetch entries. It compares one field of an entry with a
// value. The fields are "url", "filename" (the path in the bag) and
// "length". The operators are
//
//	==  equal            !=  not equal
//	=*  contains         !*  does not contain
//	^*  starts with      $*  ends with
//	<  >  <=  >=         compare
//
// Comparisons of length are numeric; the others compare strings.
type Filter struct {
	Field string
	Op    string
	Value string

	n int64 // Value as a number, for length
}

// ErrBadFilter means a filter expression could not be parsed.
var ErrBadFilter = errors.New("bad filter expression")

// the operators, two character ones first so they win over their prefixes
var filterOps = []string{"==", "!=", "=*", "!*", "^*", "$*", "<=", ">=", "<", ">"}

var filterFields = map[string]bool{"url": true, "filename": true, "length": true}

// ParseFilter parses an expression of the form <field><op><value>, e.g.
// "filename$*.txt" or "length<1000000".
func ParseFilter(expr string) (*Filter, error) {
	pos, op := -1, ""
	for _, candidate := range filterOps {
		i := strings.Index(expr, candidate)
		if i == -1 {
			continue
		}
		if pos == -1 || i < pos || (i == pos && len(candidate) > len(op)) {
			pos, op = i, candidate
		}
	}
	if pos == -1 {
		return nil, errors.Wrapf(ErrBadFilter, "%q: no operator", expr)
	}
	f := &Filter{
		Field: strings.ToLower(strings.TrimSpace(expr[:pos])),
		Op:    op,
		Value: strings.TrimSpace(expr[pos+len(op):]),
	}
	if !filterFields[f.Field] {
		return nil, errors.Wrapf(ErrBadFilter, "%q: unknown field %q", expr, f.Field)
	}
	if f.Field == "length" {
		n, err := strconv.ParseInt(f.Value, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadFilter, "%q: length must be a number", expr)
		}
		f.n = n
	}
	return f, nil
}

// Match returns true if e satisfies the filter.
func (f *Filter) Match(e *bagit.FetchEntry) bool {
	var s string
	switch f.Field {
	case "url":
		s = e.URL
	case "filename":
		s = e.Path
	case "length":
		return f.matchLength(e.Length)
	}
	switch f.Op {
	case "==":
		return s == f.Value
	case "!=":
		return s != f.Value
	case "=*":
		return strings.Contains(s, f.Value)
	case "!*":
		return !strings.Contains(s, f.Value)
	case "^*":
		return strings.HasPrefix(s, f.Value)
	case "$*":
		return strings.HasSuffix(s, f.Value)
	case "<":
		return s < f.Value
	case ">":
		return s > f.Value
	case "<=":
		return s <= f.Value
	case ">=":
		return s >= f.Value
	}
	return false
}

func (f *Filter) matchLength(n int64) bool {
	switch f.Op {
	case "==":
		return n == f.n
	case "!=":
		return n != f.n
	case "<":
		return n < f.n
	case ">":
		return n > f.n
	case "<=":
		return n <= f.n
	case ">=":
		return n >= f.n
	}
	// the string operators apply to the decimal form
	s := strconv.FormatInt(n, 10)
	switch f.Op {
	case "=*":
		return strings.Contains(s, f.Value)
	case "!*":
		return !strings.Contains(s, f.Value)
	case "^*":
		return strings.HasPrefix(s, f.Value)
	case "$*":
		return strings.HasSuffix(s, f.Value)
	}
	return false
}
