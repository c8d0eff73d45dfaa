package archive

// Generic container archivers. These are free functions rather than
// Archiver methods because Go methods cannot be generic; they realize the
// "ordered sequence / set / map / fixed-size sequence / optional / owning
// pointer / tagged-union" recursive cases of spec.md section 4.1 as a
// small family of typed helpers instead of the source's macro-heavy
// template overload set (spec.md section 9 Design Notes).

// Elem archives a single element of type T given a caller-supplied coder.
type Elem[T any] func(a *Archiver, v *T) error

// Slice archives an ordered sequence: a uint32 size prefix followed by
// each element in order.
func Slice[T any](a *Archiver, v *[]T, elem Elem[T]) error {
	if a.out != nil {
		size := uint32(len(*v))
		if err := a.Uint32(&size); err != nil {
			return err
		}
		for i := range *v {
			if err := elem(a, &(*v)[i]); err != nil {
				return err
			}
		}
		return nil
	}

	var size uint32
	if err := a.Uint32(&size); err != nil {
		return err
	}
	out := make([]T, size)
	for i := range out {
		if err := elem(a, &out[i]); err != nil {
			return err
		}
	}
	*v = out
	return nil
}

// Array archives a fixed-size sequence (no length prefix, since both sides
// already agree on the length via the schema).
func Array[T any](a *Archiver, v []T, elem Elem[T]) error {
	for i := range v {
		if err := elem(a, &v[i]); err != nil {
			return err
		}
	}
	return nil
}

// Set archives an unordered set represented as map[K]struct{}: a uint32
// size prefix then each key.
func Set[K comparable](a *Archiver, v *map[K]struct{}, key Elem[K]) error {
	if a.out != nil {
		size := uint32(len(*v))
		if err := a.Uint32(&size); err != nil {
			return err
		}
		for k := range *v {
			kk := k
			if err := key(a, &kk); err != nil {
				return err
			}
		}
		return nil
	}

	var size uint32
	if err := a.Uint32(&size); err != nil {
		return err
	}
	out := make(map[K]struct{}, size)
	for i := uint32(0); i < size; i++ {
		var k K
		if err := key(a, &k); err != nil {
			return err
		}
		out[k] = struct{}{}
	}
	*v = out
	return nil
}

// Map archives a general map: a uint32 size prefix then key/value pairs,
// written in Go's (unspecified) map iteration order.
func Map[K comparable, V any](a *Archiver, v *map[K]V, key Elem[K], val Elem[V]) error {
	if a.out != nil {
		size := uint32(len(*v))
		if err := a.Uint32(&size); err != nil {
			return err
		}
		for k, val0 := range *v {
			kk, vv := k, val0
			if err := key(a, &kk); err != nil {
				return err
			}
			if err := val(a, &vv); err != nil {
				return err
			}
		}
		return nil
	}

	var size uint32
	if err := a.Uint32(&size); err != nil {
		return err
	}
	out := make(map[K]V, size)
	for i := uint32(0); i < size; i++ {
		var k K
		var v0 V
		if err := key(a, &k); err != nil {
			return err
		}
		if err := val(a, &v0); err != nil {
			return err
		}
		out[k] = v0
	}
	*v = out
	return nil
}

// Optional archives a presence byte followed, only if present, by the
// value.
func Optional[T any](a *Archiver, present *bool, v *T, elem Elem[T]) error {
	if err := a.Bool(present); err != nil {
		return err
	}
	if !*present {
		return nil
	}
	return elem(a, v)
}

// Pointer archives owning-pointer semantics: a null byte, or a non-null
// byte followed by the pointee. *v is replaced on decode.
func Pointer[T any](a *Archiver, v **T, elem Elem[T]) error {
	nonNil := *v != nil
	if err := a.Bool(&nonNil); err != nil {
		return err
	}
	if a.out != nil {
		if nonNil {
			return elem(a, *v)
		}
		return nil
	}

	if !nonNil {
		*v = nil
		return nil
	}
	var val T
	if err := elem(a, &val); err != nil {
		return err
	}
	*v = &val
	return nil
}

// Union archives a tagged union: an index byte selecting which of the
// supplied variant encoders applies, followed by that variant. *index is
// both read and written in place, matching the caller's already-selected
// tag on encode and filling it on decode.
func Union(a *Archiver, index *uint8, variants ...func() error) error {
	if err := a.Uint8(index); err != nil {
		return err
	}
	if int(*index) >= len(variants) {
		return ErrShortRead
	}
	return variants[*index]()
}

// Matrix is a dense 2-D numeric value archived as rows, columns, then
// row-major raw bytes (spec.md section 4.1).
type Matrix[T any] struct {
	Rows, Cols int
	Data       []T
}

// ArchiveMatrix archives a Matrix given a coder for a single element.
func ArchiveMatrix[T any](a *Archiver, m *Matrix[T], elem Elem[T]) error {
	rows, cols := uint32(m.Rows), uint32(m.Cols)
	if err := a.Uint32(&rows); err != nil {
		return err
	}
	if err := a.Uint32(&cols); err != nil {
		return err
	}

	if a.in != nil {
		m.Rows, m.Cols = int(rows), int(cols)
		m.Data = make([]T, int(rows)*int(cols))
	}

	for i := range m.Data {
		if err := elem(a, &m.Data[i]); err != nil {
			return err
		}
	}
	return nil
}
