package bagit

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// A ManifestError describes a line in a manifest or fetch file which could
// not be parsed.
type ManifestError struct {
	File string
	Line int
	Msg  string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.File, e.Line, e.Msg)
}

// manifest file names look like "manifest-sha256.txt" and
// "tagmanifest-sha256.txt"
const (
	manifestPrefix    = "manifest-"
	tagManifestPrefix = "tagmanifest-"
	manifestSuffix    = ".txt"
)

// ManifestName returns the name of the payload manifest for alg.
func ManifestName(alg string) string {
	return manifestPrefix + alg + manifestSuffix
}

// TagManifestName returns the name of the tag manifest for alg.
func TagManifestName(alg string) string {
	return tagManifestPrefix + alg + manifestSuffix
}

// parseManifestName returns the algorithm named by a manifest file name and
// whether it is a tag manifest. ok is false if the name is not a manifest.
func parseManifestName(name string) (alg string, tag bool, ok bool) {
	if !strings.HasSuffix(name, manifestSuffix) {
		return "", false, false
	}
	base := strings.TrimSuffix(name, manifestSuffix)
	switch {
	case strings.HasPrefix(base, tagManifestPrefix):
		alg, tag = strings.TrimPrefix(base, tagManifestPrefix), true
	case strings.HasPrefix(base, manifestPrefix):
		alg = strings.TrimPrefix(base, manifestPrefix)
	default:
		return "", false, false
	}
	if alg == "" || strings.ContainsAny(alg, "/ ") {
		return "", false, false
	}
	return strings.ToLower(alg), tag, true
}

// EncodePath escapes the characters in a path which may not appear in a
// manifest or fetch line.
func EncodePath(p string) string {
	if !strings.ContainsAny(p, "%\r\n") {
		return p
	}
	p = strings.Replace(p, "%", "%25", -1)
	p = strings.Replace(p, "\r", "%0D", -1)
	return strings.Replace(p, "\n", "%0A", -1)
}

// DecodePath reverses EncodePath. Other percent sequences are left alone.
func DecodePath(p string) string {
	if !strings.Contains(p, "%") {
		return p
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+2 < len(p) {
			switch strings.ToUpper(p[i+1 : i+3]) {
			case "0D":
				b.WriteByte('\r')
				i += 2
				continue
			case "0A":
				b.WriteByte('\n')
				i += 2
				continue
			case "25":
				b.WriteByte('%')
				i += 2
				continue
			}
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

// splitLine splits a manifest or fetch line into its first whitespace
// delimited field and the rest of the line.
func splitLine(line string) (string, string) {
	i := strings.IndexAny(line, " \t")
	if i == -1 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i:], " \t")
}

// ParseManifest reads manifest lines of the form "<digest> <path>". The
// digest must be hexadecimal and is lower cased. A leading "*" on the path,
// as written by md5sum in binary mode, is dropped. Blank lines are skipped
// and the final newline is optional. name is only used in error messages.
func ParseManifest(r io.Reader, name string) (Manifest, error) {
	result := make(Manifest)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		digest, p := splitLine(line)
		p = strings.TrimPrefix(p, "*")
		if p == "" {
			return nil, &ManifestError{File: name, Line: lineno, Msg: "missing path"}
		}
		if _, err := hex.DecodeString(digest); err != nil || digest == "" {
			return nil, &ManifestError{File: name, Line: lineno, Msg: "digest is not hexadecimal"}
		}
		result[DecodePath(p)] = strings.ToLower(digest)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Paths returns the paths in the manifest, sorted.
func (m Manifest) Paths() []string {
	result := make([]string, 0, len(m))
	for p := range m {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Encode writes the manifest sorted by path.
func (m Manifest) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, p := range m.Paths() {
		// The 2 spaces is to be identical to the GNU md5sum output.
		fmt.Fprintf(bw, "%s  %s\n", m[p], EncodePath(p))
	}
	return bw.Flush()
}
