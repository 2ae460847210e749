// Package asgen contains the value types shared across the whole metadata
// generation pipeline: package identities, global component ids, the
// suite/section/architecture triple, and hints.
//
// Components further down the import graph (archive, backend, store/*, icon,
// extract, engine, report) all import this package; it must not import any
// of them.
package asgen
