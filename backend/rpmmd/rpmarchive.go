package rpmmd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/asgen/asgen/archive"
)

// RPM tag numbers this reader needs; see rpm's lib/rpmtag.h.
const (
	tagPayloadCompressor = 1125
)

// RPM header value types; see rpm's lib/rpmtypes.h header_tagtype_e.
const (
	rpmTypeString      = 6
	rpmTypeBin         = 7
	rpmTypeStringArray = 8
	rpmTypeI18NString  = 9
)

// readRPMPayloadFile opens an RPM package at path and returns the bytes of
// a single file from its cpio payload.
//
// No library in the pack parses the RPM container format (the original
// relies on libarchive's built-in RPM support, which has no close Go
// equivalent); this is a from-scratch reader grounded on RPM's public
// on-disk layout: a fixed 96-byte lead, a signature header, a main header,
// then a compressed cpio archive, with the compressor named in the main
// header's PAYLOADCOMPRESSOR tag.
func readRPMPayloadFile(path, wantName string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := io.CopyN(io.Discard, f, 96); err != nil {
		return nil, fmt.Errorf("rpmmd: reading lead of %q: %w", path, err)
	}

	sigSize, _, err := readRPMHeader(f)
	if err != nil {
		return nil, fmt.Errorf("rpmmd: reading signature header of %q: %w", path, err)
	}
	if pad := (8 - sigSize%8) % 8; pad > 0 {
		if _, err := io.CopyN(io.Discard, f, int64(pad)); err != nil {
			return nil, fmt.Errorf("rpmmd: skipping signature padding of %q: %w", path, err)
		}
	}

	_, tags, err := readRPMHeader(f)
	if err != nil {
		return nil, fmt.Errorf("rpmmd: reading header of %q: %w", path, err)
	}

	compressor := tags[tagPayloadCompressor]
	if compressor == "" {
		compressor = "gzip"
	}
	format, err := compressorFormat(compressor)
	if err != nil {
		return nil, fmt.Errorf("rpmmd: %q: %w", path, err)
	}

	payload, err := archive.NewStreamReader(f, format)
	if err != nil {
		return nil, fmt.Errorf("rpmmd: decompressing payload of %q: %w", path, err)
	}
	defer payload.Close()

	return readCpioFile(payload, wantName)
}

func compressorFormat(name string) (archive.Format, error) {
	switch name {
	case "gzip", "":
		return archive.Gzip, nil
	case "xz", "lzma":
		return archive.Xz, nil
	case "zstd":
		return archive.Zstd, nil
	case "bzip2":
		return archive.Bzip2, nil
	default:
		return archive.Plain, fmt.Errorf("unsupported RPM payload compressor %q", name)
	}
}

// readRPMHeader reads one RPM header structure (signature or main header)
// from r: an 16-byte intro, an index of 16-byte entries, and a data store.
// It returns the total number of bytes consumed and any STRING/
// STRING_ARRAY/I18NSTRING tag values found, keyed by tag number.
func readRPMHeader(r io.Reader) (size int, tags map[int32]string, err error) {
	var intro [16]byte
	if _, err := io.ReadFull(r, intro[:]); err != nil {
		return 0, nil, err
	}
	if intro[0] != 0x8E || intro[1] != 0xAD || intro[2] != 0xE8 {
		return 0, nil, fmt.Errorf("bad RPM header magic")
	}
	nindex := int(binary.BigEndian.Uint32(intro[8:12]))
	hsize := int(binary.BigEndian.Uint32(intro[12:16]))

	type indexEntry struct {
		tag, typ, offset, count int32
	}
	entries := make([]indexEntry, nindex)
	indexBuf := make([]byte, nindex*16)
	if _, err := io.ReadFull(r, indexBuf); err != nil {
		return 0, nil, err
	}
	for i := range entries {
		b := indexBuf[i*16 : i*16+16]
		entries[i] = indexEntry{
			tag:    int32(binary.BigEndian.Uint32(b[0:4])),
			typ:    int32(binary.BigEndian.Uint32(b[4:8])),
			offset: int32(binary.BigEndian.Uint32(b[8:12])),
			count:  int32(binary.BigEndian.Uint32(b[12:16])),
		}
	}

	store := make([]byte, hsize)
	if _, err := io.ReadFull(r, store); err != nil {
		return 0, nil, err
	}

	tags = make(map[int32]string)
	for _, e := range entries {
		switch e.typ {
		case rpmTypeString, rpmTypeI18NString, rpmTypeStringArray:
			if int(e.offset) >= len(store) {
				continue
			}
			end := bytes.IndexByte(store[e.offset:], 0)
			if end < 0 {
				continue
			}
			tags[e.tag] = string(store[e.offset : int(e.offset)+end])
		}
	}

	return 16 + nindex*16 + hsize, tags, nil
}
