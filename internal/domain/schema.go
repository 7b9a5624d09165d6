package domain

import (
	"fmt"
	"sort"
)

// FieldKind is the declared type of a canonical field.
type FieldKind int

const (
	KindInt FieldKind = iota
	KindFloat
	KindString
)

func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Raw attribute names read outside the schema table.
const (
	attrDatum    = "Datum"
	attrDatumNeu = "Datum_neu"
	attrObjectID = "ObjectId"
)

// Canonical field names referenced by the projector.
const (
	FieldFallzahl            = "Fallzahl"
	FieldMeldedatumOrZuwachs = "Meldedatum_or_Zuwachs"
)

// FieldSpec declares one canonical field and the raw attribute names it may
// be read from, newest first.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Sources []string
}

// Schema is one revision of the feed contract.
type Schema struct {
	Version string
	Fields  []FieldSpec

	// LegacyNone renders a null string attribute as "None", the value
	// stored for those fields before schema version 3.
	LegacyNone bool
}

// DefaultSchemaVersion is used when no version is configured.
const DefaultSchemaVersion = "3"

func intField(name string, sources ...string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindInt, Sources: sources}
}

// baseFields is the attribute set of the first published revision.
func baseFields() []FieldSpec {
	return []FieldSpec{
		{Name: "Anzeige_Indikator", Kind: KindString},
		intField("BelegteBetten"),
		intField(attrDatumNeu),
		intField(FieldFallzahl),
		intField("Genesungsfall"),
		intField("Hospitalisierung"),
		{Name: "Inzidenz", Kind: KindFloat},
		intField(attrObjectID),
		intField("Sterbefall"),
		intField("Zuwachs_Fallzahl"),
		intField("Zuwachs_Genesung"),
		intField("Zuwachs_Krankenhauseinweisung"),
		intField("Zuwachs_Sterbefall"),
	}
}

func withField(fields []FieldSpec, spec FieldSpec) []FieldSpec {
	out := make([]FieldSpec, 0, len(fields)+1)
	out = append(out, fields...)
	return append(out, spec)
}

// schemas is keyed by version. Fälle_Meldedatum counts cases by report date
// on the day itself while Zuwachs_Fallzahl is the lagged daily delta; the
// fallback keeps the series continuous across the revision, it is not a synonym.
var schemas = map[string]Schema{
	"1": {
		Version:    "1",
		LegacyNone: true,
		Fields:     withField(baseFields(), intField(FieldMeldedatumOrZuwachs, "Zuwachs_Fallzahl")),
	},
	"2": {
		Version:    "2",
		LegacyNone: true,
		Fields: withField(baseFields(),
			intField(FieldMeldedatumOrZuwachs, "Fälle_Meldedatum", "Faelle_Meldedatum", "Zuwachs_Fallzahl")),
	},
	"3": {
		Version: "3",
		Fields: withField(baseFields(),
			intField(FieldMeldedatumOrZuwachs, "Fälle_Meldedatum", "Faelle_Meldedatum", "Zuwachs_Fallzahl")),
	},
}

// LookupSchema returns the schema registered for version.
func LookupSchema(version string) (Schema, error) {
	s, ok := schemas[version]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema version %q (known: %v)", version, SchemaVersions())
	}
	return s, nil
}

// SchemaVersions lists the registered versions in ascending order.
func SchemaVersions() []string {
	versions := make([]string, 0, len(schemas))
	for v := range schemas {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// lookupNames is the full chain tried for a field: its canonical name first,
// so that a rendered CanonicalRecord normalizes to itself.
func (f FieldSpec) lookupNames() []string {
	names := make([]string, 0, len(f.Sources)+1)
	names = append(names, f.Name)
	for _, s := range f.Sources {
		if s != f.Name {
			names = append(names, s)
		}
	}
	return names
}
