package resolve

import (
	"io"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
)

// a parser reads the locations out of one kind of service response.
type parser struct {
	accept string // Accept header sent with the request
	bare   bool   // request the identifier without its scheme
	parse  func(r io.Reader) ([]Location, error)
}

var parsers = map[Kind]parser{
	KindTemplate: {},
	KindMinid:    {accept: "application/json", parse: parseMinid},
	KindDataGUID: {accept: "application/json", parse: parseDataGUID},
	KindDataCite: {accept: "application/vnd.datacite.datacite+json", bare: true, parse: parseDataCite},
}

// parseMinid reads a minid landing record:
//
//	{"locations": [{"link": "https://..."}],
//	 "checksums": [{"function": "sha256", "value": "..."}],
//	 "metadata": {"contentSize": 1234}}
func parseMinid(r io.Reader) ([]Location, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string)
	checksums, _ := obj.GetObjectArray("checksums")
	for _, c := range checksums {
		alg, _ := c.GetString("function")
		value, _ := c.GetString("value")
		if alg != "" && value != "" {
			sums[strings.ToLower(alg)] = strings.ToLower(value)
		}
	}
	length := int64(-1)
	if n, err := obj.GetInt64("metadata", "contentSize"); err == nil {
		length = n
	} else if n, err := obj.GetInt64("metadata", "length"); err == nil {
		length = n
	}
	var result []Location
	locations, _ := obj.GetObjectArray("locations")
	for _, loc := range locations {
		link, err := loc.GetString("link")
		if err != nil || link == "" {
			link, _ = loc.GetString("uri")
		}
		if link == "" {
			continue
		}
		result = append(result, Location{URL: link, Length: length, Checksums: sums})
	}
	return result, nil
}

// parseDataGUID reads an index record:
//
//	{"data_object": {"size": 1234,
//	 "urls": [{"url": "s3://..."}],
//	 "checksums": [{"type": "md5", "checksum": "..."}]}}
func parseDataGUID(r io.Reader) ([]Location, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, err
	}
	record, err := obj.GetObject("data_object")
	if err != nil {
		return nil, err
	}
	sums := make(map[string]string)
	checksums, _ := record.GetObjectArray("checksums")
	for _, c := range checksums {
		alg, _ := c.GetString("type")
		value, _ := c.GetString("checksum")
		if alg != "" && value != "" {
			sums[strings.ToLower(alg)] = strings.ToLower(value)
		}
	}
	length, err := record.GetInt64("size")
	if err != nil {
		length = -1
	}
	var result []Location
	urls, _ := record.GetObjectArray("urls")
	for _, u := range urls {
		link, _ := u.GetString("url")
		if link != "" {
			result = append(result, Location{URL: link, Length: length, Checksums: sums})
		}
	}
	return result, nil
}

// parseDataCite reads the contentUrl of a DataCite JSON record, which may
// be a string or a list of strings. The size is taken from the first entry
// of sizes having the form "1234 bytes".
func parseDataCite(r io.Reader) ([]Location, error) {
	obj, err := jason.NewObjectFromReader(r)
	if err != nil {
		return nil, err
	}
	length := int64(-1)
	sizes, _ := obj.GetStringArray("sizes")
	for _, s := range sizes {
		f := strings.Fields(s)
		if len(f) == 2 && strings.ToLower(f[1]) == "bytes" {
			if n, err := strconv.ParseInt(f[0], 10, 64); err == nil {
				length = n
				break
			}
		}
	}
	var links []string
	if v, err := obj.GetValue("contentUrl"); err == nil {
		if s, err := v.String(); err == nil {
			links = append(links, s)
		} else if list, err := v.Array(); err == nil {
			for _, item := range list {
				if s, err := item.String(); err == nil {
					links = append(links, s)
				}
			}
		}
	}
	var result []Location
	for _, link := range links {
		if link != "" {
			result = append(result, Location{URL: link, Length: length})
		}
	}
	return result, nil
}
