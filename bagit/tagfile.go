package bagit

import (
	"bufio"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"
)

// A Tag is a single "Key: value" line in a tag file.
type Tag struct {
	Key   string
	Value string
}

// A TagList is an ordered list of tags. Keys may repeat. The zero value is
// an empty list ready to use.
type TagList struct {
	tags []Tag
}

// Len returns the number of tags in the list.
func (t *TagList) Len() int {
	return len(t.tags)
}

// Tags returns a copy of the tags in order.
func (t *TagList) Tags() []Tag {
	result := make([]Tag, len(t.tags))
	copy(result, t.tags)
	return result
}

// Get returns the value of the first tag named key, or "" if there is none.
func (t *TagList) Get(key string) string {
	for _, tag := range t.tags {
		if tag.Key == key {
			return tag.Value
		}
	}
	return ""
}

// Has returns true if there is at least one tag named key.
func (t *TagList) Has(key string) bool {
	for _, tag := range t.tags {
		if tag.Key == key {
			return true
		}
	}
	return false
}

// GetAll returns the values of every tag named key, in order.
func (t *TagList) GetAll(key string) []string {
	var result []string
	for _, tag := range t.tags {
		if tag.Key == key {
			result = append(result, tag.Value)
		}
	}
	return result
}

// Add appends a tag to the end of the list.
func (t *TagList) Add(key, value string) {
	t.tags = append(t.tags, Tag{Key: key, Value: value})
}

// Set replaces the value of the first tag named key and removes any other
// tag with that name. If there is no such tag, it is appended.
func (t *TagList) Set(key, value string) {
	found := false
	out := t.tags[:0]
	for _, tag := range t.tags {
		if tag.Key == key {
			if found {
				continue
			}
			found = true
			tag.Value = value
		}
		out = append(out, tag)
	}
	t.tags = out
	if !found {
		t.Add(key, value)
	}
}

// Delete removes every tag named key.
func (t *TagList) Delete(key string) {
	out := t.tags[:0]
	for _, tag := range t.tags {
		if tag.Key != key {
			out = append(out, tag)
		}
	}
	t.tags = out
}

// SetValue sets key to a value of a Go type. Strings, numbers, booleans,
// time.Time (written as a date) and fmt.Stringer are written as a single
// tag. A []string is written as one tag per element. Anything else, such as
// maps or structs, returns ErrUnsupportedNested and leaves the list alone.
func (t *TagList) SetValue(key string, v interface{}) error {
	switch x := v.(type) {
	case string:
		t.Set(key, x)
		return nil
	case []string:
		t.Delete(key)
		for _, s := range x {
			t.Add(key, s)
		}
		return nil
	case time.Time:
		t.Set(key, x.Format("2006-01-02"))
		return nil
	case fmt.Stringer:
		t.Set(key, x.String())
		return nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		t.Set(key, fmt.Sprint(v))
		return nil
	}
	return ErrUnsupportedNested
}

// Merge copies every key in other into this list. Keys in other replace
// all tags of the same name here. Tags not mentioned in other are kept.
func (t *TagList) Merge(other *TagList) {
	if other == nil {
		return
	}
	done := make(map[string]bool)
	for _, tag := range other.tags {
		if done[tag.Key] {
			continue
		}
		done[tag.Key] = true
		t.Delete(tag.Key)
		for _, v := range other.GetAll(tag.Key) {
			t.Add(tag.Key, v)
		}
	}
}

// ParseTags reads a tag file. A line beginning with white space continues
// the previous tag, and is joined to it with a single space. Otherwise a
// line is split on its first colon. Blank lines and lines without a colon
// are skipped.
func ParseTags(r io.Reader) (*TagList, error) {
	result := new(TagList)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			n := len(result.tags)
			if n == 0 {
				continue
			}
			cont := strings.TrimSpace(line)
			if result.tags[n-1].Value == "" {
				result.tags[n-1].Value = cont
			} else {
				result.tags[n-1].Value += " " + cont
			}
			continue
		}
		i := strings.Index(line, ":")
		if i == -1 {
			continue
		}
		result.Add(strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]))
	}
	return result, scanner.Err()
}

// Encode writes the tags in order, folding values so lines are no longer
// than width bytes where possible. A width of zero or less disables
// folding. Newlines inside values are written as spaces.
func (t *TagList) Encode(w io.Writer, width int) error {
	bw := bufio.NewWriter(w)
	for _, tag := range t.tags {
		for _, line := range foldTag(tag.Key, tag.Value, width) {
			bw.WriteString(line)
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// foldTag returns the lines for a single tag. Values are only broken where
// there is a single space between words, so that reading the lines back
// joins them into the same value.
func foldTag(key, value string, width int) []string {
	value = strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == '\n' || r == '\r'
	}), " ")
	value = strings.TrimSpace(value)
	line := key + ": " + value
	if width <= 0 || len(line) <= width || strings.Contains(value, "  ") || strings.ContainsRune(value, '\t') {
		return []string{line}
	}
	var result []string
	current := key + ":"
	words := 0
	for _, word := range strings.Split(value, " ") {
		if words > 0 && len(current)+1+len(word) > width {
			result = append(result, current)
			current = "  " + word
			continue
		}
		current += " " + word
		words++
	}
	return append(result, current)
}
