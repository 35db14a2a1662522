// Package signature derives a stable fingerprint from a pantry snapshot so
// cached pantry recommendations are invalidated exactly when the pantry
// changes.
package signature

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/larder-app/larder/pkg/models"
)

const (
	separator      = ";"
	fieldSeparator = "|"
)

// escaper keeps separators inside item names from forming the boundaries of
// another item or field.
var escaper = strings.NewReplacer(`\`, `\\`, fieldSeparator, `\`+fieldSeparator, separator, `\`+separator)

// Pantry returns the signature for items. The result does not depend on item
// order; any change to an item's name, expiry or quantity changes it.
func Pantry(items []models.PantryItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, normalize(it))
	}
	sort.Strings(parts)
	return strings.Join(parts, separator)
}

func normalize(it models.PantryItem) string {
	exp := ""
	if it.ExpirationDate != nil {
		exp = it.ExpirationDate.UTC().Format(time.RFC3339)
	}
	name := escaper.Replace(strings.ToLower(strings.TrimSpace(it.Name)))
	return name + fieldSeparator + exp + fieldSeparator +
		strconv.FormatFloat(it.Quantity, 'f', -1, 64)
}
