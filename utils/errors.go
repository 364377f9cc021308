package utils

// PermError is a constant string error, usable as a sentinel in const-like vars.
type PermError string

func (e PermError) Error() string {
	return string(e)
}
