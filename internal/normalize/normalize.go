/*-------------------------------------------------------------------------
 *
 * QPG - Canonical Object Identity
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// objectIDLength is the short, human-pastable identifier length.
const objectIDLength = 12

// Object is the canonical record produced for every indexed entity.
type Object struct {
	ObjectID   string
	SourceName string
	SchemaName string
	ObjectName string
	ObjectType string
	FQName     string
	Definition string
	Comment    string
	Signature  string
	Owner      string
	IsSystem   bool
}

// MakeFQName returns "schema.object", or the bare object name when the
// schema is empty (schemas, extensions).
func MakeFQName(schemaName, objectName string) string {
	if schemaName != "" {
		return schemaName + "." + objectName
	}
	return objectName
}

// MakeObjectID derives the stable content-addressed identifier from the
// identity tuple. It never changes across reindexing unless the tuple does.
func MakeObjectID(sourceName, objectType, fqname string) string {
	digest := sha256.Sum256([]byte(sourceName + ":" + objectType + ":" + fqname))
	return hex.EncodeToString(digest[:])[:objectIDLength]
}

// CanonicalSignature collapses whitespace runs and lowercases type names in
// a signature snippet so byte-identical signatures come out of repeated
// introspection passes.
func CanonicalSignature(signature string) string {
	fields := strings.Fields(signature)
	for i, field := range fields {
		// Type tokens follow identifiers; PostgreSQL reports them
		// lowercased already except for quoted or composite forms.
		if !strings.ContainsAny(field, `"`) {
			fields[i] = strings.ToLower(field)
		}
	}
	return strings.Join(fields, " ")
}

// NormalizeObject builds the canonical record: trimmed text fields, the
// fqname, and the deterministic object id.
func NormalizeObject(sourceName, schemaName, objectName, objectType,
	definition, comment, signature, owner string, isSystem bool) Object {

	fqname := MakeFQName(schemaName, objectName)
	return Object{
		ObjectID:   MakeObjectID(sourceName, objectType, fqname),
		SourceName: sourceName,
		SchemaName: schemaName,
		ObjectName: objectName,
		ObjectType: objectType,
		FQName:     fqname,
		Definition: strings.TrimSpace(definition),
		Comment:    strings.TrimSpace(comment),
		Signature:  strings.TrimSpace(signature),
		Owner:      owner,
		IsSystem:   isSystem,
	}
}
