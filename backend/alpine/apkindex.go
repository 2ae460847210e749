package alpine

import (
	"bufio"
	"bytes"
	"strings"
)

// apkIndexBlock is one package record out of an APKINDEX file: a run of
// "X:value" lines terminated by a blank line. A value line without a
// colon is a continuation of the previous field's value, joined with a
// space, matching ApkIndexBlockRange's pairing of wrapped lines.
type apkIndexBlock struct {
	name, version, arch, maintainer, description string
}

// parseAPKIndex splits an APKINDEX file's contents into its per-package
// blocks.
func parseAPKIndex(data []byte) []apkIndexBlock {
	var blocks []apkIndexBlock
	var cur apkIndexBlock
	var pendingField byte
	var pendingValue strings.Builder
	haveField := false

	flush := func() {
		if !haveField {
			return
		}
		setAPKField(&cur, pendingField, strings.TrimSpace(pendingValue.String()))
		pendingValue.Reset()
		haveField = false
	}

	endBlock := func() {
		flush()
		if cur.name != "" {
			blocks = append(blocks, cur)
		}
		cur = apkIndexBlock{}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			endBlock()
			continue
		}
		if len(line) >= 2 && line[1] == ':' {
			flush()
			pendingField = line[0]
			pendingValue.WriteString(line[2:])
			haveField = true
			continue
		}
		if haveField {
			pendingValue.WriteByte(' ')
			pendingValue.WriteString(strings.TrimSpace(line))
		}
	}
	endBlock()

	return blocks
}

func setAPKField(b *apkIndexBlock, field byte, value string) {
	switch field {
	case 'P':
		b.name = value
	case 'V':
		b.version = value
	case 'A':
		b.arch = value
	case 'm':
		b.maintainer = value
	case 'T':
		b.description = value
	}
}

func (b apkIndexBlock) archiveName() string {
	return b.name + "-" + b.version + ".apk"
}
