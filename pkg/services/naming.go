package services

import (
	"strings"

	"github.com/jinzhu/inflection"
)

const foreignKeySuffix = "_id"

// selfReferenceColumns are column names that point a row at another row of
// its own table (manager_id, parent_id hierarchies).
var selfReferenceColumns = map[string]bool{
	"parent_id":   true,
	"parent":      true,
	"parent_key":  true,
	"superior_id": true,
	"manager_id":  true,
}

// foreignKeyStem returns X for a column named X_id (case-insensitive).
func foreignKeyStem(columnName string) (string, bool) {
	lower := strings.ToLower(columnName)
	if !strings.HasSuffix(lower, foreignKeySuffix) {
		return "", false
	}
	stem := strings.TrimSuffix(lower, foreignKeySuffix)
	if stem == "" {
		return "", false
	}
	return stem, true
}

func singularName(name string) string {
	return inflection.Singular(strings.ToLower(name))
}

func pluralName(name string) string {
	return inflection.Plural(strings.ToLower(name))
}

// normalizeName lowercases name and folds spaces, hyphens and dots to single
// underscores, which is how names from uploaded files end up as identifiers.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case ' ', '-', '.', '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
