/*-------------------------------------------------------------------------
 *
 * QPG - Introspection Filters
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package introspect

import (
	"path"
	"strings"
)

// ApplyFilters restricts a bundle to the source's include_schemas set and
// removes objects matching any skip pattern. Patterns are shell globs
// matched against both the fqname and the bare object name. Child rows
// whose parent was filtered out are dropped with it.
func ApplyFilters(bundle *Bundle, includeSchemas, skipPatterns []string) *Bundle {
	schemas := map[string]bool{}
	for _, name := range includeSchemas {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			schemas[trimmed] = true
		}
	}
	patterns := make([]string, 0, len(skipPatterns))
	for _, pattern := range skipPatterns {
		if trimmed := strings.TrimSpace(pattern); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}

	if len(schemas) == 0 && len(patterns) == 0 {
		return bundle
	}

	allowed := func(obj *Object) bool {
		if len(schemas) > 0 && (obj.SchemaName == "" || !schemas[obj.SchemaName]) {
			return false
		}
		fqname := obj.FQName()
		for _, pattern := range patterns {
			if globMatch(pattern, fqname) || globMatch(pattern, obj.ObjectName) {
				return false
			}
		}
		return true
	}

	filtered := &Bundle{Warnings: bundle.Warnings}
	allowedFQNames := map[string]bool{}
	for i := range bundle.Objects {
		obj := bundle.Objects[i]
		if allowed(&obj) {
			filtered.Objects = append(filtered.Objects, obj)
			allowedFQNames[obj.FQName()] = true
		}
	}

	for _, column := range bundle.Columns {
		if allowedFQNames[column.ParentFQName] {
			filtered.Columns = append(filtered.Columns, column)
		}
	}
	for _, constraint := range bundle.Constraints {
		if allowedFQNames[constraint.ParentFQName] {
			filtered.Constraints = append(filtered.Constraints, constraint)
		}
	}
	for _, index := range bundle.Indexes {
		if allowedFQNames[index.ParentFQName] {
			filtered.Indexes = append(filtered.Indexes, index)
		}
	}
	for _, dep := range bundle.Dependencies {
		if allowedFQNames[dep.FromFQName] && allowedFQNames[dep.ToFQName] {
			filtered.Dependencies = append(filtered.Dependencies, dep)
		}
	}
	return filtered
}

// globMatch wraps path.Match; a malformed pattern never matches.
func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
