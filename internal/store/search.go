package store

import "strings"

var arabicFolds = strings.NewReplacer(
	"أ", "ا", "إ", "ا", "آ", "ا",
	"ة", "ه",
	"ى", "ي",
	"ـ", "",
)

// NormalizeSearch lowercases s and folds common Arabic letter variants so
// "مكرونة" matches "مكرونه".
func NormalizeSearch(s string) string {
	return arabicFolds.Replace(strings.ToLower(strings.TrimSpace(s)))
}

func searchTerms(q string) []string {
	return strings.Fields(NormalizeSearch(q))
}

// matchesAll reports whether every term occurs in at least one of fields.
func matchesAll(terms []string, fields ...string) bool {
	if len(terms) == 0 {
		return true
	}
	hay := make([]string, len(fields))
	for i, f := range fields {
		hay[i] = NormalizeSearch(f)
	}
	for _, term := range terms {
		found := false
		for _, h := range hay {
			if strings.Contains(h, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
