package bagit

import (
	"fmt"
	"strconv"
	"strings"
)

// An Oxum is the Payload-Oxum of a bag: the total size of the payload in
// bytes and the number of payload files.
type Oxum struct {
	Bytes int64
	Count int64
}

func (o Oxum) String() string {
	return fmt.Sprintf("%d.%d", o.Bytes, o.Count)
}

// ParseOxum parses a "<bytes>.<count>" string.
func ParseOxum(s string) (Oxum, error) {
	var o Oxum
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 2 {
		return o, fmt.Errorf("bad Payload-Oxum %q", s)
	}
	var err error
	o.Bytes, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return o, fmt.Errorf("bad Payload-Oxum %q", s)
	}
	o.Count, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return o, fmt.Errorf("bad Payload-Oxum %q", s)
	}
	return o, nil
}

// Metric constants for humansize. Lowercased so as to be unexported.
const (
	kb int64 = 1000
	mb       = 1000 * kb
	gb       = 1000 * mb
	tb       = 1000 * gb
)

// humansize gives the Bag-Size value for a payload of the given size.
func humansize(size int64) string {
	var units string
	switch {
	case size < kb:
		units = "Bytes"
	case size < mb:
		size /= kb
		units = "KB"
	case size < gb:
		size /= mb
		units = "MB"
	case size < tb:
		size /= gb
		units = "GB"
	default:
		size /= tb
		units = "TB"
	}
	return fmt.Sprintf("%d %s", size, units)
}
