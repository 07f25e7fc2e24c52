// Package diff implements the projector and diff engine (C4): a
// structural comparison between two packages, and a projector that
// turns a package into an ordered create/update/remove plan against an
// environment's installed baseline.
package diff

import (
	"sort"

	"github.com/c360studio/changeops/internal/pkgmodel"
)

// AddedRecordType describes a record type present in b but not a.
type AddedRecordType struct {
	Key       string `json:"key"`
	FieldCount int   `json:"fieldCount"`
}

// RemovedRecordType describes a record type present in a but not b.
type RemovedRecordType struct {
	Key string `json:"key"`
}

// ModifiedRecordType describes a record type present in both a and b
// whose field set or base type changed.
type ModifiedRecordType struct {
	Key             string   `json:"key"`
	AddedFields     []string `json:"addedFields"`
	RemovedFields   []string `json:"removedFields"`
	BaseTypeChanged bool     `json:"baseTypeChanged,omitempty"`
}

// Summary is the aggregate counts callers display without walking the
// full delta.
type Summary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

// Result is the structural delta between two packages.
type Result struct {
	AddedRecordTypes    []AddedRecordType    `json:"addedRecordTypes"`
	RemovedRecordTypes  []RemovedRecordType  `json:"removedRecordTypes"`
	ModifiedRecordTypes []ModifiedRecordType `json:"modifiedRecordTypes"`
	Summary             Summary              `json:"summary"`
}

// Diff compares a (the "from" package, e.g. an environment's current
// baseline) against b (the "to" package, e.g. a draft candidate) and
// returns the structural delta. Field-level modification is a
// name-keyed set symmetric difference, per DATA MODEL §4.4. Diff(a,a)
// always returns an all-zero Summary.
func Diff(a, b *pkgmodel.Package) Result {
	aTypes := indexRecordTypes(a)
	bTypes := indexRecordTypes(b)

	var result Result

	for _, key := range sortedKeys(bTypes) {
		if _, ok := aTypes[key]; !ok {
			result.AddedRecordTypes = append(result.AddedRecordTypes, AddedRecordType{
				Key:        key,
				FieldCount: len(bTypes[key].Fields),
			})
		}
	}

	for _, key := range sortedKeys(aTypes) {
		if _, ok := bTypes[key]; !ok {
			result.RemovedRecordTypes = append(result.RemovedRecordTypes, RemovedRecordType{Key: key})
		}
	}

	for _, key := range sortedKeys(aTypes) {
		bt, ok := bTypes[key]
		if !ok {
			continue
		}
		at := aTypes[key]

		addedFields, removedFields := fieldSymmetricDifference(at, bt)
		baseTypeChanged := at.BaseType != bt.BaseType

		if len(addedFields) > 0 || len(removedFields) > 0 || baseTypeChanged {
			result.ModifiedRecordTypes = append(result.ModifiedRecordTypes, ModifiedRecordType{
				Key:             key,
				AddedFields:     addedFields,
				RemovedFields:   removedFields,
				BaseTypeChanged: baseTypeChanged,
			})
		}
	}

	result.Summary = Summary{
		Added:    len(result.AddedRecordTypes),
		Removed:  len(result.RemovedRecordTypes),
		Modified: len(result.ModifiedRecordTypes),
	}
	return result
}

func indexRecordTypes(p *pkgmodel.Package) map[string]pkgmodel.RecordType {
	out := make(map[string]pkgmodel.RecordType, len(p.RecordTypes))
	for _, rt := range p.RecordTypes {
		out[rt.Key] = rt
	}
	return out
}

// fieldSymmetricDifference returns the field names present in b's type
// but absent in a's (added), and present in a's but absent in b's
// (removed), both in a's/b's own field order.
func fieldSymmetricDifference(a, b pkgmodel.RecordType) (added, removed []string) {
	aNames := make(map[string]bool, len(a.Fields))
	for _, f := range a.Fields {
		aNames[f.Name] = true
	}
	bNames := make(map[string]bool, len(b.Fields))
	for _, f := range b.Fields {
		bNames[f.Name] = true
	}

	for _, f := range b.Fields {
		if !aNames[f.Name] {
			added = append(added, f.Name)
		}
	}
	for _, f := range a.Fields {
		if !bNames[f.Name] {
			removed = append(removed, f.Name)
		}
	}
	return added, removed
}

func sortedKeys(m map[string]pkgmodel.RecordType) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
