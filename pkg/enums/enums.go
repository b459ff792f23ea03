package enums

import (
	"fmt"
	"slices"
)

// member reports whether v is one of set.
func member[T ~string](set []T, v T) bool {
	return slices.Contains(set, v)
}

// parse maps raw onto a member of set; kind names the enum in the error.
func parse[T ~string](kind string, set []T, raw string) (T, error) {
	if v := T(raw); member(set, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
