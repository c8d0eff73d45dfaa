package archive

import (
	"testing"
	"time"

	"github.com/flowmesh/dtc/streambuf"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int32
}

func (p *point) Archive(a *Archiver) error {
	if err := a.Int32(&p.X); err != nil {
		return err
	}
	return a.Int32(&p.Y)
}

type record struct {
	Name    string
	Created time.Time
	Tags    map[string]struct{}
	Scores  []float64
	Parent  *point
}

func (r *record) Archive(a *Archiver) error {
	if err := a.String(&r.Name); err != nil {
		return err
	}
	if err := a.Time(&r.Created); err != nil {
		return err
	}
	if err := Set(a, &r.Tags, (*Archiver).String); err != nil {
		return err
	}
	if err := Slice(a, &r.Scores, func(a *Archiver, v *float64) error { return a.Float64(v) }); err != nil {
		return err
	}
	return Pointer(a, &r.Parent, func(a *Archiver, v *point) error { return v.Archive(a) })
}

func roundTrip(t *testing.T, values ...Archivable) *streambuf.InputBuffer {
	t.Helper()
	out := streambuf.NewOutput(nil)
	enc := NewOutputArchiver(out)
	require.NoError(t, enc.Call(values...))
	return streambuf.NewInputFromOutput(out)
}

func TestArchivePrimitivesRoundTrip(t *testing.T) {
	var b bool = true
	var i8 int8 = -7
	var u32 uint32 = 0xdeadbeef
	var f64 float64 = 3.14159
	var s string = "hello archive"
	var d time.Duration = 42 * time.Second

	out := streambuf.NewOutput(nil)
	a := NewOutputArchiver(out)
	require.NoError(t, a.Bool(&b))
	require.NoError(t, a.Int8(&i8))
	require.NoError(t, a.Uint32(&u32))
	require.NoError(t, a.Float64(&f64))
	require.NoError(t, a.String(&s))
	require.NoError(t, a.Duration(&d))

	in := streambuf.NewInputFromOutput(out)
	dec := NewInputArchiver(in)

	var b2 bool
	var i8_2 int8
	var u32_2 uint32
	var f64_2 float64
	var s2 string
	var d2 time.Duration

	require.NoError(t, dec.Bool(&b2))
	require.NoError(t, dec.Int8(&i8_2))
	require.NoError(t, dec.Uint32(&u32_2))
	require.NoError(t, dec.Float64(&f64_2))
	require.NoError(t, dec.String(&s2))
	require.NoError(t, dec.Duration(&d2))

	require.Equal(t, b, b2)
	require.Equal(t, i8, i8_2)
	require.Equal(t, u32, u32_2)
	require.Equal(t, f64, f64_2)
	require.Equal(t, s, s2)
	require.Equal(t, d, d2)
}

func TestArchivableRoundTrip(t *testing.T) {
	r := &record{
		Name:    "vertex-0",
		Created: time.Unix(1700000000, 0).UTC(),
		Tags:    map[string]struct{}{"a": {}, "b": {}},
		Scores:  []float64{1.5, 2.5, 3.5},
		Parent:  &point{X: 3, Y: 4},
	}

	in := roundTrip(t, r)
	dec := NewInputArchiver(in)

	var got record
	require.NoError(t, got.Archive(dec))

	require.Equal(t, r.Name, got.Name)
	require.True(t, r.Created.Equal(got.Created))
	require.Equal(t, r.Tags, got.Tags)
	require.Equal(t, r.Scores, got.Scores)
	require.Equal(t, r.Parent, got.Parent)
}

func TestArchiveNilPointer(t *testing.T) {
	r := &record{Name: "no-parent", Tags: map[string]struct{}{}, Scores: nil, Parent: nil}

	in := roundTrip(t, r)
	dec := NewInputArchiver(in)

	var got record
	require.NoError(t, got.Archive(dec))
	require.Nil(t, got.Parent)
	require.Empty(t, got.Scores)
}

func TestUnionRoundTrip(t *testing.T) {
	out := streambuf.NewOutput(nil)
	a := NewOutputArchiver(out)

	var idx uint8 = 1
	var strVal string = "union-string"
	var intVal int32 = 99

	err := Union(a, &idx,
		func() error { return a.Int32(&intVal) },
		func() error { return a.String(&strVal) },
	)
	require.NoError(t, err)

	in := streambuf.NewInputFromOutput(out)
	dec := NewInputArchiver(in)

	var gotIdx uint8
	var gotInt int32
	var gotStr string
	err = Union(dec, &gotIdx,
		func() error { return dec.Int32(&gotInt) },
		func() error { return dec.String(&gotStr) },
	)
	require.NoError(t, err)
	require.Equal(t, idx, gotIdx)
	require.Equal(t, strVal, gotStr)
}

func TestMatrixRoundTrip(t *testing.T) {
	m := Matrix[int32]{Rows: 2, Cols: 3, Data: []int32{1, 2, 3, 4, 5, 6}}

	out := streambuf.NewOutput(nil)
	a := NewOutputArchiver(out)
	require.NoError(t, ArchiveMatrix(a, &m, func(a *Archiver, v *int32) error { return a.Int32(v) }))

	in := streambuf.NewInputFromOutput(out)
	dec := NewInputArchiver(in)

	var got Matrix[int32]
	require.NoError(t, ArchiveMatrix(dec, &got, func(a *Archiver, v *int32) error { return a.Int32(v) }))
	require.Equal(t, m.Rows, got.Rows)
	require.Equal(t, m.Cols, got.Cols)
	require.Equal(t, m.Data, got.Data)
}

func TestShortReadOnEmptyBuffer(t *testing.T) {
	in := streambuf.NewInput(nil)
	dec := NewInputArchiver(in)

	var v uint32
	err := dec.Uint32(&v)
	require.ErrorIs(t, err, ErrShortRead)
}
