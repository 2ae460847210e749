package alpine

import "testing"

const sampleIndex = `P:gimp
V:2.10.30-r1
A:x86_64
m:Natanael Copa <ncopa@alpinelinux.org>
T:GNU Image Manipulation
 Program

P:busybox
V:1.36.1-r5
A:x86_64
m:Sören Tempel <soeren+alpine@soeren-tempel.net>
T:Size optimized toolbox of many common UNIX utilities
`

func TestParseAPKIndexSplitsBlocksAndJoinsContinuations(t *testing.T) {
	blocks := parseAPKIndex([]byte(sampleIndex))
	if len(blocks) != 2 {
		t.Fatalf("want 2 blocks, got %d", len(blocks))
	}

	gimp := blocks[0]
	if gimp.name != "gimp" || gimp.version != "2.10.30-r1" || gimp.arch != "x86_64" {
		t.Fatalf("unexpected identity: %+v", gimp)
	}
	if gimp.description != "GNU Image Manipulation Program" {
		t.Errorf("continuation line not joined: %q", gimp.description)
	}
	if gimp.archiveName() != "gimp-2.10.30-r1.apk" {
		t.Errorf("unexpected archive name: %q", gimp.archiveName())
	}

	busybox := blocks[1]
	if busybox.maintainer != "Sören Tempel <soeren+alpine@soeren-tempel.net>" {
		t.Errorf("unexpected maintainer: %q", busybox.maintainer)
	}
}

func TestParseAPKIndexIgnoresUnknownFields(t *testing.T) {
	data := "P:foo\nV:1\nA:x86_64\nS:12345\nC:Q1abc=\n\n"
	blocks := parseAPKIndex([]byte(data))
	if len(blocks) != 1 {
		t.Fatalf("want 1 block, got %d", len(blocks))
	}
	if blocks[0].name != "foo" {
		t.Errorf("unexpected name: %q", blocks[0].name)
	}
}
