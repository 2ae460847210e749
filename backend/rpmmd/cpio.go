package rpmmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/asgen/asgen/archive"
)

const cpioNewcMagic = "070701"
const cpioTrailer = "TRAILER!!!"

// readCpioFile scans a "newc" (SVR4 no-CRC) cpio stream for the single
// member named wantName (with or without a leading "./", matching RPM
// payload naming) and returns its data.
func readCpioFile(r io.Reader, wantName string) ([]byte, error) {
	want := normalizeCpioName(wantName)
	for {
		name, size, data, err := readCpioEntry(r)
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %q", archive.ErrNotFound, wantName)
		}
		if err != nil {
			return nil, err
		}
		if name == cpioTrailer {
			return nil, fmt.Errorf("%w: %q", archive.ErrNotFound, wantName)
		}
		if normalizeCpioName(name) == want {
			return data, nil
		}
		_ = size
	}
}

func normalizeCpioName(name string) string {
	for len(name) > 1 && name[0] == '.' && name[1] == '/' {
		name = name[2:]
	}
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}

// readCpioEntry reads one "newc" header, its name, and its data, consuming
// the alignment padding after each. The newc header is 110 bytes of ASCII
// hex fields: magic(6) ino(8) mode(8) uid(8) gid(8) nlink(8) mtime(8)
// filesize(8) devmajor(8) devminor(8) rdevmajor(8) rdevminor(8)
// namesize(8) check(8).
func readCpioEntry(r io.Reader) (name string, size int64, data []byte, err error) {
	var hdr [110]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return "", 0, nil, err
	}
	if string(hdr[0:6]) != cpioNewcMagic {
		return "", 0, nil, fmt.Errorf("rpmmd: bad cpio magic %q", hdr[0:6])
	}
	fileSize, err := parseCpioHex(hdr[54:62])
	if err != nil {
		return "", 0, nil, fmt.Errorf("rpmmd: parsing cpio filesize: %w", err)
	}
	nameSize, err := parseCpioHex(hdr[94:102])
	if err != nil {
		return "", 0, nil, fmt.Errorf("rpmmd: parsing cpio namesize: %w", err)
	}

	nameBuf := make([]byte, nameSize)
	if _, err = io.ReadFull(r, nameBuf); err != nil {
		return "", 0, nil, err
	}
	name = string(nameBuf[:max(0, len(nameBuf)-1)]) // drop the trailing NUL

	if pad := cpioPad(110 + int(nameSize)); pad > 0 {
		if _, err = io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return "", 0, nil, err
		}
	}

	data = make([]byte, fileSize)
	if _, err = io.ReadFull(r, data); err != nil {
		return "", 0, nil, err
	}
	if pad := cpioPad(int(fileSize)); pad > 0 {
		if _, err = io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return "", 0, nil, err
		}
	}

	return name, int64(fileSize), data, nil
}

func parseCpioHex(field []byte) (int64, error) {
	raw := make([]byte, hex.DecodedLen(len(field)))
	if _, err := hex.Decode(raw, field); err != nil {
		return 0, err
	}
	var v int64
	for _, b := range raw {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// cpioPad returns the number of zero bytes needed to round n up to a
// multiple of 4, cpio newc's alignment.
func cpioPad(n int) int {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}
