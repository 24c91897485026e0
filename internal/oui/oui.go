// Package oui maps hardware addresses to vendor names and vendor names to
// coarse device types.
//
// Both tables are built once and never modified afterwards, so a single
// Database or Classifier may be shared by any number of goroutines. The
// package embeds a curated extract of the IEEE MA-L registry and a default
// vendor mapping document; a full registry export can be loaded from disk
// instead.
package oui

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/anstrom/netsweep/internal/errors"
)

// Placeholder values stored on device records.
const (
	NotAvailable      = "N/A"
	UnknownVendor     = "Unknown Vendor"
	UnknownDeviceType = "Unknown"
)

// prefixLen is the number of hex digits in an MA-L assignment.
const prefixLen = 6

//go:embed data/oui.csv
var embeddedRegistry []byte

// Database is an immutable OUI prefix to organization name table.
type Database struct {
	vendors map[string]string
}

// LoadDatabase parses an IEEE registry CSV export
// (Registry,Assignment,Organization Name,Organization Address). Header
// rows, short rows and assignments that are not six hex digits after
// normalization are skipped. The first row seen for a prefix wins.
func LoadDatabase(r io.Reader) (*Database, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	db := &Database{vendors: make(map[string]string)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapScanError(errors.CodeParseFailed, "failed to read OUI registry", err)
		}
		if len(record) < 3 || strings.EqualFold(strings.TrimSpace(record[0]), "Registry") {
			continue
		}

		prefix := strings.ToUpper(strings.NewReplacer("-", "", ":", "", " ", "").Replace(record[1]))
		if len(prefix) != prefixLen || !isHex(prefix) {
			continue
		}
		if _, exists := db.vendors[prefix]; exists {
			continue
		}
		db.vendors[prefix] = strings.TrimSpace(record[2])
	}

	return db, nil
}

// LoadDatabaseFile reads a registry export from path.
func LoadDatabaseFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeFileNotFound, "failed to open OUI registry", err).
			WithContext("path", path)
	}
	defer f.Close()
	return LoadDatabase(f)
}

// Len returns the number of prefixes in the table.
func (d *Database) Len() int {
	return len(d.vendors)
}

// Lookup returns the organization registered for the hardware address.
// Separators are ignored. Addresses with fewer than six hex digits yield
// NotAvailable; unregistered prefixes yield UnknownVendor.
func (d *Database) Lookup(mac string) string {
	key, ok := NormalizeOUI(mac)
	if !ok {
		return NotAvailable
	}
	if vendor, found := d.vendors[key]; found {
		return vendor
	}
	return UnknownVendor
}

// NormalizeOUI strips every non-hex character from mac, uppercases it and
// returns the first six digits.
func NormalizeOUI(mac string) (string, bool) {
	var b strings.Builder
	b.Grow(len(mac))
	for i := 0; i < len(mac) && b.Len() < prefixLen; i++ {
		c := mac[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			b.WriteByte(c)
		case c >= 'a' && c <= 'f':
			b.WriteByte(c - ('a' - 'A'))
		}
	}
	if b.Len() < prefixLen {
		return "", false
	}
	return b.String(), true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

var (
	defaultDatabase     *Database
	defaultDatabaseOnce sync.Once
)

// DefaultDatabase returns the table built from the embedded registry.
func DefaultDatabase() *Database {
	defaultDatabaseOnce.Do(func() {
		db, err := LoadDatabase(bytes.NewReader(embeddedRegistry))
		if err != nil {
			panic("oui: embedded registry is invalid: " + err.Error())
		}
		defaultDatabase = db
	})
	return defaultDatabase
}
