package oui

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/anstrom/netsweep/internal/errors"
)

//go:embed data/vendor_mappings.xml
var embeddedMappings []byte

// Mapping pairs a vendor substring with the device type it implies.
type Mapping struct {
	Substring  string `json:"substring"`
	DeviceType string `json:"device_type"`

	lower string
}

// Classifier holds an ordered list of mappings. The first mapping whose
// substring occurs in a vendor name, ignoring case, decides the type.
type Classifier struct {
	mappings []Mapping
}

type mappingDocument struct {
	Vendors []struct {
		Name string `xml:"name,attr"`
		Type string `xml:"type,attr"`
	} `xml:"Vendor"`
}

// LoadClassifier parses a <VendorMappings> document of
// <Vendor name="..." type="..."/> elements. Elements missing either
// attribute are skipped; a repeated name keeps its first position and type.
func LoadClassifier(r io.Reader) (*Classifier, error) {
	var doc mappingDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.WrapScanError(errors.CodeParseFailed, "failed to parse vendor mappings", err)
	}

	c := &Classifier{mappings: make([]Mapping, 0, len(doc.Vendors))}
	seen := make(map[string]bool, len(doc.Vendors))
	for _, v := range doc.Vendors {
		name := strings.TrimSpace(v.Name)
		typ := strings.TrimSpace(v.Type)
		if name == "" || typ == "" {
			continue
		}
		lower := strings.ToLower(name)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		c.mappings = append(c.mappings, Mapping{Substring: name, DeviceType: typ, lower: lower})
	}

	return c, nil
}

// LoadClassifierFile reads a mapping document from path.
func LoadClassifierFile(path string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeFileNotFound, "failed to open vendor mappings", err).
			WithContext("path", path)
	}
	defer f.Close()
	return LoadClassifier(f)
}

// Classify returns the device type for vendor, or UnknownDeviceType.
func (c *Classifier) Classify(vendor string) string {
	if vendor == "" {
		return UnknownDeviceType
	}
	v := strings.ToLower(vendor)
	for _, m := range c.mappings {
		if strings.Contains(v, m.lower) {
			return m.DeviceType
		}
	}
	return UnknownDeviceType
}

// Mappings returns a copy of the mappings in match order.
func (c *Classifier) Mappings() []Mapping {
	out := make([]Mapping, len(c.mappings))
	copy(out, c.mappings)
	return out
}

var (
	defaultClassifier     *Classifier
	defaultClassifierOnce sync.Once
)

// DefaultClassifier returns the classifier built from the embedded mappings.
func DefaultClassifier() *Classifier {
	defaultClassifierOnce.Do(func() {
		c, err := LoadClassifier(bytes.NewReader(embeddedMappings))
		if err != nil {
			panic("oui: embedded vendor mappings are invalid: " + err.Error())
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// Load returns the tables for the given override paths. Empty paths select
// the embedded defaults.
func Load(registryPath, mappingsPath string) (*Database, *Classifier, error) {
	db := DefaultDatabase()
	if registryPath != "" {
		var err error
		if db, err = LoadDatabaseFile(registryPath); err != nil {
			return nil, nil, err
		}
	}

	cls := DefaultClassifier()
	if mappingsPath != "" {
		var err error
		if cls, err = LoadClassifierFile(mappingsPath); err != nil {
			return nil, nil, err
		}
	}

	return db, cls, nil
}
