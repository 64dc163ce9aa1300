/*-------------------------------------------------------------------------
 *
 * QPG - Context Targets and Inheritance
 *
 * Portions copyright (c) 2025, pgEdge, Inc.
 * This software is released under The PostgreSQL License
 *
 *-------------------------------------------------------------------------
 */

package contexts

import (
	"net/url"
	"strings"

	qerrors "qpg/internal/errors"
)

// Record is one stored operator-authored context note.
type Record struct {
	ID        int64  `json:"id"`
	TargetURI string `json:"target_uri"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Scope is a parsed context target: a source, optionally narrowed to a
// schema, an object, or a concrete object id.
type Scope struct {
	Source     string
	Schema     string
	ObjectName string
	ObjectID   string
}

// ObjectRef identifies one indexed object for applicability checks.
type ObjectRef struct {
	Source     string
	Schema     string
	ObjectName string
	ObjectID   string
}

// ParseTarget parses a qpg:// target URI into a scope. Accepted shapes:
// qpg://<source>, qpg://<source>/<schema>, qpg://<source>/<schema.object>,
// qpg://<source>#<object_id>.
func ParseTarget(targetURI string) (Scope, error) {
	parsed, err := url.Parse(targetURI)
	if err != nil {
		return Scope{}, qerrors.Wrap(qerrors.KindConfigError, "invalid context target", err)
	}
	if parsed.Scheme != "qpg" {
		return Scope{}, qerrors.New(qerrors.KindConfigError, "context target must begin with qpg://")
	}
	if parsed.Host == "" {
		return Scope{}, qerrors.New(qerrors.KindConfigError, "context target must include a source name")
	}

	scope := Scope{Source: parsed.Host}

	if fragment := strings.TrimSpace(parsed.Fragment); fragment != "" {
		scope.ObjectID = fragment
		return scope, nil
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return scope, nil
	}

	if schemaPart, objectPart, ok := strings.Cut(path, "/"); ok {
		scope.Schema = strings.TrimSpace(schemaPart)
		if object := strings.TrimSpace(objectPart); object != "" {
			scope.ObjectName = object
			return scope, nil
		}
	}

	if schemaPart, objectPart, ok := strings.Cut(path, "."); ok {
		scope.Schema = strings.TrimSpace(schemaPart)
		scope.ObjectName = strings.TrimSpace(objectPart)
		return scope, nil
	}

	scope.Schema = path
	return scope, nil
}

// Applies reports whether a context scope covers the given object. Child
// objects carry synthetic names of the form "<parent>.<child>", so an
// object-level scope also covers the children of that object.
func Applies(scope Scope, obj ObjectRef) bool {
	if scope.Source != obj.Source {
		return false
	}
	if scope.ObjectID != "" && scope.ObjectID != obj.ObjectID {
		return false
	}
	if scope.Schema != "" && scope.Schema != obj.Schema {
		return false
	}
	if scope.ObjectName != "" {
		if scope.ObjectName == obj.ObjectName {
			return true
		}
		return strings.HasPrefix(obj.ObjectName, scope.ObjectName+".")
	}
	return true
}

// scopeRank orders applicable scopes along the inheritance chain:
// source, then schema, then owning table, then the object itself.
func scopeRank(scope Scope, obj ObjectRef) int {
	switch {
	case scope.ObjectID != "":
		return 3
	case scope.ObjectName != "" && scope.ObjectName == obj.ObjectName:
		return 3
	case scope.ObjectName != "":
		// Parent scope inherited by a child object.
		return 2
	case scope.Schema != "":
		return 1
	default:
		return 0
	}
}

// ResolveEffective materializes the inherited context text for one object:
// the applicable context bodies walking source -> schema -> owning table ->
// object, deduplicated, joined by newlines. Within one level, stored order
// is kept.
func ResolveEffective(records []Record, obj ObjectRef) string {
	var lines []string
	seen := map[string]bool{}
	for rank := 0; rank <= 3; rank++ {
		for _, record := range records {
			scope, err := ParseTarget(record.TargetURI)
			if err != nil {
				continue
			}
			if !Applies(scope, obj) || scopeRank(scope, obj) != rank {
				continue
			}
			body := strings.TrimSpace(record.Body)
			if body == "" || seen[body] {
				continue
			}
			seen[body] = true
			lines = append(lines, body)
		}
	}
	return strings.Join(lines, "\n")
}
