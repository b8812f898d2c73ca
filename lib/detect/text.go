package detect

import "strings"

// CompareText returns the edit-distance similarity ratio between two free-text
// strings, case-insensitive. 0.0 if either is empty.
func CompareText(text1, text2 string) float64 {
	t1, t2 := strings.ToLower(strings.TrimSpace(text1)), strings.ToLower(strings.TrimSpace(text2))
	if t1 == "" || t2 == "" {
		return 0
	}
	return editRatio(t1, t2)
}
