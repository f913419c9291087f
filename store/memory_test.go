package store

import (
	"bytes"
	"fmt"
	"testing"
)

func TestMemoryStage(t *testing.T) {
	ms := NewMemory()
	ms.Put("bagit.txt", []byte("old"))

	p, _ := ms.Stage("bagit.txt")
	fmt.Fprint(p, "new")
	if got := readKey(t, ms, "bagit.txt"); got != "old" {
		t.Errorf("Read %q before commit", got)
	}
	p.Commit()
	if got := readKey(t, ms, "bagit.txt"); got != "new" {
		t.Errorf("Read %q after commit", got)
	}

	p, _ = ms.Stage("sub/dir.txt")
	fmt.Fprint(p, "x")
	p.Abort()
	if _, err := ms.Stat("sub/dir.txt"); err != ErrNotExist {
		t.Errorf("Stat returned %v after abort", err)
	}

	ms.Put("sub/other.txt", nil)
	list, _ := ms.List()
	if !equal(list, []string{"bagit.txt"}) {
		t.Errorf("List returned %v", list)
	}

	var buf bytes.Buffer
	ms.Dump(&buf)
	if buf.Len() == 0 {
		t.Errorf("Dump wrote nothing")
	}
}
