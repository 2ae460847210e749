package arch

import (
	"bufio"
	"bytes"
	"strings"
)

// listFile parses one member of a pacman "files.tar.gz" database entry
// (the "desc" or "files" record): a sequence of "%BLOCKNAME%" headers, each
// followed by one or more value lines up to the next blank line. Grounded
// on original_source/src/backends/archlinux/listfile.cpp.
type listFile struct {
	entries map[string]string
}

func parseListFile(data []byte) *listFile {
	lf := &listFile{entries: map[string]string{}}
	var block string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") && len(line) > 1:
			block = line[1 : len(line)-1]
		case line == "":
			block = ""
		case block != "":
			if existing, ok := lf.entries[block]; ok {
				lf.entries[block] = existing + "\n" + line
			} else {
				lf.entries[block] = line
			}
		}
	}
	return lf
}

func (lf *listFile) get(name string) string { return lf.entries[name] }
