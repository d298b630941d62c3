package common

// Coalesce returns the first of vals that differs from T's zero value. An
// empty or all-zero input yields the zero value. Used for name fallbacks when
// loading assets whose optional fields may be blank.
func Coalesce[T comparable](vals ...T) T {
	var zero T
	for _, v := range vals {
		if v != zero {
			return v
		}
	}
	return zero
}
