// Package catalog loads the organizational-unit lookup table (school ->
// department -> levels) used to form attendance session keys. The table is
// supplied externally through the data store and is treated as read-only.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
)

// DefaultPath is the data-repository path of the catalog blob.
const DefaultPath = "school_structure.json"

type Catalog map[string]map[string][]int

// Load reads and decodes the catalog blob. Decoding fails closed; a missing
// blob is an empty catalog.
func Load(ctx context.Context, store core.FileStore, path string) (Catalog, error) {
	f, err := store.Read(ctx, path)
	if errors.Cause(err) == core.ErrFileNotFound {
		return Catalog{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog")
	}

	var cat Catalog
	dec := json.NewDecoder(bytes.NewReader(f.Content))
	if err = dec.Decode(&cat); err != nil {
		return nil, errors.Wrap(err, "malformed catalog")
	}
	return cat, nil
}

// Schools lists the top-level units, sorted.
func (c Catalog) Schools() []string {
	schools := make([]string, 0, len(c))
	for school := range c {
		schools = append(schools, school)
	}
	sort.Strings(schools)
	return schools
}

// Departments lists the departments of a school, sorted; nil for an unknown school.
func (c Catalog) Departments(school string) []string {
	depts, ok := c[school]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(depts))
	for dept := range depts {
		names = append(names, dept)
	}
	sort.Strings(names)
	return names
}

// Levels lists the levels of a department; nil when unknown.
func (c Catalog) Levels(school, department string) []int {
	depts, ok := c[school]
	if !ok {
		return nil
	}
	return depts[department]
}

// Contains reports whether (school, department, level) is a valid combination.
func (c Catalog) Contains(school, department string, level int) bool {
	for _, l := range c.Levels(school, department) {
		if l == level {
			return true
		}
	}
	return false
}
