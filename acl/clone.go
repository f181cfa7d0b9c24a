package acl

import "github.com/huandu/go-clone"

// Cloner lets content types provide their own deep copy.
type Cloner interface {
	Clone() any
}

// deepCopy copies v including unexported state. Shared and cyclic
// references keep their shape in the copy. Values implementing Cloner are
// copied with their own method.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	if c, ok := v.(Cloner); ok {
		return c.Clone()
	}
	return clone.Slowly(v)
}
