package holey

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/bagit"
)

func TestParseFilter(t *testing.T) {
	var table = []struct {
		expr  string
		field string
		op    string
		value string
	}{
		{"url==https://a.example/x", "url", "==", "https://a.example/x"},
		{"filename$*.csv", "filename", "$*", ".csv"},
		{" length <= 1000 ", "length", "<=", "1000"},
		{"length<1000", "length", "<", "1000"},
		{"url^*s3://", "url", "^*", "s3://"},
		{"filename!*tmp", "filename", "!*", "tmp"},
		{"Filename=*a==b", "filename", "=*", "a==b"},
		{"url!=x", "url", "!=", "x"},
	}
	for _, tab := range table {
		f, err := ParseFilter(tab.expr)
		if err != nil {
			t.Errorf("%q: %s", tab.expr, err)
			continue
		}
		if f.Field != tab.field || f.Op != tab.op || f.Value != tab.value {
			t.Errorf("%q: got %s %s %q", tab.expr, f.Field, f.Op, f.Value)
		}
	}

	for _, expr := range []string{"", "filename", "size>10", "length>ten", "=x"} {
		_, err := ParseFilter(expr)
		if errors.Cause(err) != ErrBadFilter {
			t.Errorf("%q: got %v, expected ErrBadFilter", expr, err)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	e := &bagit.FetchEntry{URL: "https://a.example/big/table.csv", Length: 2048, Path: "data/tables/table.csv"}
	var table = []struct {
		expr  string
		match bool
	}{
		{"filename==data/tables/table.csv", true},
		{"filename$*.csv", true},
		{"filename$*.txt", false},
		{"filename^*data/tables/", true},
		{"url=*/big/", true},
		{"url!*/big/", false},
		{"url!=https://a.example/big/table.csv", false},
		{"length>1024", true},
		{"length<1024", false},
		{"length>=2048", true},
		{"length<=2047", false},
		{"length==2048", true},
		{"length!=2048", false},
		{"length^*20", true},
		// strings compare by bytes
		{"filename>data/a", true},
		{"filename<data/a", false},
	}
	for _, tab := range table {
		f, err := ParseFilter(tab.expr)
		if err != nil {
			t.Fatalf("%q: %s", tab.expr, err)
		}
		if got := f.Match(e); got != tab.match {
			t.Errorf("%q: got %v, expected %v", tab.expr, got, tab.match)
		}
	}
}
