package rpmmd

import (
	"bytes"
	"fmt"
	"testing"
)

func cpioHexField(v int) string { return fmt.Sprintf("%08X", v) }

func writeCpioEntry(buf *bytes.Buffer, name string, data []byte) {
	nameBytes := append([]byte(name), 0)
	hdr := cpioNewcMagic +
		cpioHexField(0) + // ino
		cpioHexField(0o100644) + // mode
		cpioHexField(0) + // uid
		cpioHexField(0) + // gid
		cpioHexField(1) + // nlink
		cpioHexField(0) + // mtime
		cpioHexField(len(data)) + // filesize
		cpioHexField(0) + // devmajor
		cpioHexField(0) + // devminor
		cpioHexField(0) + // rdevmajor
		cpioHexField(0) + // rdevminor
		cpioHexField(len(nameBytes)) + // namesize
		cpioHexField(0) // check
	buf.WriteString(hdr)
	buf.Write(nameBytes)
	for (110+len(nameBytes))%4 != 0 {
		buf.WriteByte(0)
		nameBytes = append(nameBytes, 0)
	}
	buf.Write(data)
	pad := (4 - len(data)%4) % 4
	buf.Write(make([]byte, pad))
}

func writeCpioTrailer(buf *bytes.Buffer) {
	writeCpioEntry(buf, "TRAILER!!!", nil)
}

func buildCpioArchive(files map[string][]byte, order []string) []byte {
	var buf bytes.Buffer
	for _, name := range order {
		writeCpioEntry(&buf, name, files[name])
	}
	writeCpioTrailer(&buf)
	return buf.Bytes()
}

func TestReadCpioFileFindsMember(t *testing.T) {
	files := map[string][]byte{
		"./usr/bin/gimp":                 []byte("#!/bin/sh\nexec gimp-2.10 \"$@\"\n"),
		"./usr/share/doc/gimp/README.md": []byte("gimp docs"),
	}
	order := []string{"./usr/bin/gimp", "./usr/share/doc/gimp/README.md"}
	archiveBytes := buildCpioArchive(files, order)

	got, err := readCpioFile(bytes.NewReader(archiveBytes), "/usr/bin/gimp")
	if err != nil {
		t.Fatalf("readCpioFile: %v", err)
	}
	if string(got) != string(files["./usr/bin/gimp"]) {
		t.Errorf("got %q, want %q", got, files["./usr/bin/gimp"])
	}
}

func TestReadCpioFileNotFound(t *testing.T) {
	archiveBytes := buildCpioArchive(map[string][]byte{"./a": []byte("x")}, []string{"./a"})
	_, err := readCpioFile(bytes.NewReader(archiveBytes), "/missing")
	if err == nil {
		t.Fatal("expected an error for a missing member")
	}
}

func TestReadCpioEntryRejectsBadMagic(t *testing.T) {
	bad := bytes.Repeat([]byte("x"), 110)
	_, _, _, err := readCpioEntry(bytes.NewReader(bad))
	if err == nil {
		t.Fatal("expected an error for bad cpio magic")
	}
}
