package bagit

import (
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/ndlib/holey/store"
	"github.com/ndlib/holey/util"
)

type zdata map[string]string

const bagitDecl = "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n"

func TestRead(t *testing.T) {
	var table = []struct {
		name     string
		contents zdata
		ok       bool
	}{
		{"ok-1", zdata{
			"bagit.txt":           bagitDecl,
			"manifest-md5.txt":    "5d41402abc4b2a76b9719d911017c592  data/hello1\n",
			"manifest-sha256.txt": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824  data/hello1\n",
		}, true},
		// no bagit.txt
		{"decl-1", zdata{
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592  data/hello1\n",
		}, false},
		// manifest not hex
		{"manifest-1", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "thisisnothexdata0000000000000000 data/hello1\n",
		}, false},
		// missing final newline
		{"manifest-2", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592 data/hello1",
		}, true},
		// manifest line only has hash
		{"manifest-3", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592\n",
		}, false},
		// path outside of the payload directory
		{"manifest-4", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592 data/../hello1\n",
		}, false},
		// binary mode marker and tab separator
		{"manifest-5", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5D41402ABC4B2A76B9719D911017C592\t*data/hello1\r\n\n",
		}, true},
		{"fetch-1", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592 data/hello1\n",
			"fetch.txt":        "http://example.com/hello1 - data/hello1\n",
		}, false},
		{"fetch-2", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592 data/hello1\n",
			"fetch.txt":        "http://example.com/hello1 5 data/hello1\n",
		}, true},
		{"fetch-3", zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592 data/hello1\n",
			"fetch.txt":        "http://example.com/hello1 five data/hello1\n",
		}, false},
	}

	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		_, err := Read(memstore(tab.contents))
		if tab.ok && err != nil {
			t.Errorf("%s: Read returned %s", tab.name, err.Error())
		} else if !tab.ok && err == nil {
			t.Errorf("%s: Read returned nil", tab.name)
		}
	}
}

func TestReadContents(t *testing.T) {
	b, err := Read(memstore(zdata{
		"bagit.txt":           bagitDecl,
		"bag-info.txt":        "Contact-Name: Nobody\nPayload-Oxum: 10.2\n",
		"manifest-md5.txt":    "5D41402ABC4B2A76B9719D911017C592  data/hello%0A1\n5d41402abc4b2a76b9719d911017c592  data/hello2\n",
		"manifest-sha256.txt": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824  data/hello2\n",
		"manifest-crc99.txt":  "0000  data/hello2\n",
		"fetch.txt":           "http://example.com/h2\t5\tdata/hello2\n",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if b.Info.Get("Contact-Name") != "Nobody" {
		t.Errorf("Received %q, expected %q", b.Info.Get("Contact-Name"), "Nobody")
	}
	if strings.Join(b.Algorithms, ",") != "md5,sha256" {
		t.Errorf("Received %v, expected [md5 sha256]", b.Algorithms)
	}
	if b.Manifests["crc99"] == nil {
		t.Errorf("Unsupported manifest was not kept")
	}
	if b.Manifests["md5"]["data/hello\n1"] != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("Encoded path or digest case not handled: %v", b.Manifests["md5"])
	}
	e := b.Fetch.Get("data/hello2")
	if e == nil || e.Length != 5 || e.URL != "http://example.com/h2" {
		t.Fatalf("Received fetch entry %v", e)
	}
	if e.Checksums["sha256"] != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("Fetch entry missing checksums: %v", e.Checksums)
	}
	if b.RemoteChanged() {
		t.Errorf("RemoteChanged is true right after reading")
	}
	b.Fetch.Add(FetchEntry{URL: "http://example.com/h3", Length: 1, Path: "data/hello3"})
	if !b.RemoteChanged() {
		t.Errorf("RemoteChanged is false after adding a fetch entry")
	}
}

func TestReadRemoteRecorded(t *testing.T) {
	const fetch = "http://example.com/h1\t5\tdata/hello1\n"
	var table = []struct {
		name        string
		tagmanifest string
		changed     bool
	}{
		{"no tag manifest", "", false},
		{"listed", md5hex(fetch) + "  fetch.txt\n", false},
		{"not listed", "0123456789abcdef0123456789abcdef  bagit.txt\n", true},
		{"other digest", "0123456789abcdef0123456789abcdef  fetch.txt\n", true},
	}
	for _, tab := range table {
		files := zdata{
			"bagit.txt":        bagitDecl,
			"manifest-md5.txt": "5d41402abc4b2a76b9719d911017c592  data/hello1\n",
			"fetch.txt":        fetch,
		}
		if tab.tagmanifest != "" {
			files["tagmanifest-md5.txt"] = tab.tagmanifest
		}
		b, err := Read(memstore(files))
		if err != nil {
			t.Fatalf("%s: %v", tab.name, err)
		}
		if b.RemoteChanged() != tab.changed {
			t.Errorf("%s: RemoteChanged = %v, expected %v", tab.name, b.RemoteChanged(), tab.changed)
		}
		if !Complete(Report{}, b.RemoteChanged(), true) {
			t.Errorf("%s: not complete with remote checking off", tab.name)
		}
	}
}

func TestReadErrors(t *testing.T) {
	_, err := Read(memstore(zdata{"manifest-md5.txt": ""}))
	if err != ErrNotBag {
		t.Errorf("Received %v, expected %v", err, ErrNotBag)
	}
	_, err = Read(memstore(zdata{
		"bagit.txt": bagitDecl,
		"fetch.txt": "http://example.com/hello1\t-\tdata/hello1\n",
	}))
	if errors.Cause(err) != ErrMissingLength {
		t.Errorf("Received %v, expected %v", err, ErrMissingLength)
	}
	for _, bad := range []string{"../victim.txt", "/etc/passwd", "meta/../../x"} {
		_, err = Read(memstore(zdata{
			"bagit.txt":           bagitDecl,
			"tagmanifest-md5.txt": md5hex("") + "  " + bad + "\n",
		}))
		if errors.Cause(err) != ErrBadPath {
			t.Errorf("%s: Received %v, expected %v", bad, err, ErrBadPath)
		}
	}
	if !IsBag(memstore(zdata{"bagit.txt": bagitDecl})) {
		t.Errorf("IsBag returned false")
	}
	if IsBag(memstore(zdata{"bagit.txt": "nothing here\n"})) {
		t.Errorf("IsBag returned true for a bagit.txt without a version")
	}
}

func TestTagParser(t *testing.T) {
	var table = []struct {
		name     string
		contents string
		tags     map[string]string
	}{
		// Parse normal tag file
		{"ok-1",
			"a-tag: some text\nanother-tag: more text\n  extended line",
			map[string]string{
				"a-tag":       "some text",
				"another-tag": "more text extended line",
			}},
		{"ok-2",
			"first tag:important\nthis line is skipped\n\n this line continues the first\n",
			map[string]string{
				"first tag": "important this line continues the first",
			}},
		{"ok-3",
			"\ufeffUrl: http://example.com/a:b\r\n\tnext\r\n",
			map[string]string{
				"Url": "http://example.com/a:b next",
			}},
	}

	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		tags, err := ParseTags(strings.NewReader(tab.contents))
		if err != nil {
			t.Error(err)
			continue
		}
		got := make(map[string]string)
		for _, tag := range tags.Tags() {
			got[tag.Key] = tag.Value
		}
		if !mapsEqual(got, tab.tags) {
			t.Errorf("tags unequal received %#v, expected %#v",
				got,
				tab.tags)
		}
	}
}

func TestVerifyTagFiles(t *testing.T) {
	manifest := "5d41402abc4b2a76b9719d911017c592  data/hello1\n"
	good := md5hex(manifest)
	var table = []struct {
		name     string
		contents zdata
		kinds    []ProblemKind
	}{
		{"ok-1", zdata{
			"manifest-md5.txt":    manifest,
			"tagmanifest-md5.txt": good + "  manifest-md5.txt\n",
		}, nil},
		{"checksum-1", zdata{
			"manifest-md5.txt":    manifest,
			"tagmanifest-md5.txt": "00000000000000000000000000000000  manifest-md5.txt\n",
		}, []ProblemKind{ChecksumMismatch}},
		{"missing-1", zdata{
			"manifest-md5.txt":    manifest,
			"tagmanifest-md5.txt": good + "  manifest-md5.txt\nabcdef  missing.txt\n",
		}, []ProblemKind{FileMissing}},
		// extra tag files are allowed
		{"extra-1", zdata{
			"tagfile.txt":         "extra tag file",
			"manifest-md5.txt":    manifest,
			"tagmanifest-md5.txt": good + "  manifest-md5.txt\n",
		}, nil},
	}
	for _, tab := range table {
		t.Logf("Doing %s", tab.name)
		tab.contents["bagit.txt"] = bagitDecl
		s := memstore(tab.contents)
		b, err := Read(s)
		if err != nil {
			t.Fatal(err)
		}
		problems, err := b.VerifyTagFiles(s)
		if err != nil {
			t.Fatal(err)
		}
		if len(problems) != len(tab.kinds) {
			t.Errorf("%s: Received %v, expected %v", tab.name, problems, tab.kinds)
			continue
		}
		for i := range problems {
			if problems[i].Kind != tab.kinds[i] {
				t.Errorf("%s: Received %v, expected %v", tab.name, problems[i].Kind, tab.kinds[i])
			}
		}
	}
}

func TestCheckStructure(t *testing.T) {
	b, err := Read(memstore(zdata{
		"bagit.txt":           bagitDecl,
		"manifest-md5.txt":    "5d41402abc4b2a76b9719d911017c592 data/hello1\n5d41402abc4b2a76b9719d911017c592 data/hello2\n",
		"manifest-sha256.txt": "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824 data/hello2\n",
	}))
	if err != nil {
		t.Fatal(err)
	}
	problems := b.CheckStructure()
	if len(problems) != 1 || problems[0].Kind != IncompleteManifest ||
		problems[0].Path != "data/hello1" || problems[0].Algorithm != "sha256" {
		t.Errorf("Received %v, expected one incomplete manifest for data/hello1", problems)
	}

	mismatch := b.CompareDigests("data/hello2", map[string]string{"md5": "00", "sha256": "2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824"})
	if len(mismatch) != 1 || mismatch[0].Algorithm != "md5" {
		t.Errorf("Received %v, expected one md5 mismatch", mismatch)
	}
}

func memstore(contents zdata) *store.Memory {
	ms := store.NewMemory()
	for k, v := range contents {
		ms.Put(k, []byte(v))
	}
	return ms
}

func md5hex(s string) string {
	hw := util.NewHashWriterPlain("md5")
	hw.Write([]byte(s))
	return hw.Sum("md5")
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v1 := range a {
		v2 := b[k]
		if v1 != v2 {
			return false
		}
	}
	return true
}
