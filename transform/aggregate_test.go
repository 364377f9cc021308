package transform

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.csv", "height\n60\n")
	b := writeFile(t, dir, "b.json", `{"weight":150}`+"\n")

	tbl, err := Combine(context.Background(), []string{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{"height", "height_m", "weight", "weight_kg"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())

	assert.Equal(t, 60.0, tbl.Value(0, "height"))
	assert.Equal(t, 1.52, tbl.Value(0, "height_m"))
	assert.Nil(t, tbl.Value(0, "weight"))
	assert.Nil(t, tbl.Value(0, "weight_kg"))

	assert.Nil(t, tbl.Value(1, "height"))
	assert.Nil(t, tbl.Value(1, "height_m"))
	assert.Equal(t, 150.0, tbl.Value(1, "weight"))
	assert.Equal(t, 68.04, tbl.Value(1, "weight_kg"))

	out := filepath.Join(dir, "out", "transformed_data.csv")
	require.NoError(t, Persist(tbl, out))
	b2, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "height,height_m,weight,weight_kg\n60,1.52,,\n,,150,68.04\n", string(b2))
}

func TestCombineMixedFormats(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "s1.csv", "name,height,weight\nalex,65.78,112.99\n"),
		writeFile(t, dir, "s2.json", `{"name":"ajay","height":71.52,"weight":136.49}`+"\n"),
		writeFile(t, dir, "s3.xml", "<data><row><name>alice</name><height>69.4</height><weight>153.03</weight></row></data>"),
	}

	tbl, err := Combine(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "height", "weight", "height_m", "weight_kg"}, tbl.Columns)
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, "alex", tbl.Value(0, "name"))
	assert.Equal(t, "ajay", tbl.Value(1, "name"))
	assert.Equal(t, "alice", tbl.Value(2, "name"))
	assert.Equal(t, 1.76, tbl.Value(2, "height_m"))
	assert.Equal(t, 69.41, tbl.Value(2, "weight_kg"))
}

func TestCombineFailFast(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.csv", "height\n60\n")
	bad := writeFile(t, dir, "bad.json", "not json\n")
	unsupported := writeFile(t, dir, "notes.txt", "x")

	tbl, err := Combine(context.Background(), []string{good, bad})
	assert.Nil(t, tbl)
	assert.ErrorIs(t, err, ErrMalformedInput)

	tbl, err = Combine(context.Background(), []string{good, unsupported})
	assert.Nil(t, tbl)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "a failed combine writes nothing")
}

func TestPersistDeterministic(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.json", `{"z":1,"a":"x, y","height":70}`+"\n"+`{"a":"q","b":true}`+"\n"),
		writeFile(t, dir, "b.csv", "b,weight\nfoo,100\n"),
	}

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		tbl, err := Combine(context.Background(), paths)
		require.NoError(t, err)
		out := filepath.Join(dir, "run", "out.csv")
		require.NoError(t, Persist(tbl, out))
		b, err := os.ReadFile(out)
		require.NoError(t, err)
		outputs = append(outputs, b)
	}
	assert.True(t, bytes.Equal(outputs[0], outputs[1]))
	assert.Equal(t, "z,a,height,b,height_m,weight,weight_kg\n1,\"x, y\",70,,1.78,,\n,q,,True,,,\n,,,foo,,100,45.36\n", string(outputs[0]))

	leftovers, err := filepath.Glob(filepath.Join(dir, "run", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPersistEmptyTable(t *testing.T) {
	tbl, err := Combine(context.Background(), nil)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, Persist(tbl, out))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "", FormatCell(nil))
	assert.Equal(t, "60", FormatCell(60.0))
	assert.Equal(t, "1.52", FormatCell(1.52))
	assert.Equal(t, "False", FormatCell(false))
	assert.Equal(t, "txt", FormatCell("txt"))
}

func TestCombineOutOfRangeHeight(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{
		writeFile(t, dir, "big.csv", "height\n1e999\n"),
		writeFile(t, dir, "big.xml", "<data><row><height>-1e400</height></row></data>"),
		writeFile(t, dir, "big.json", `{"height":1e999}`+"\n"),
	} {
		var err error
		assert.NotPanics(t, func() {
			_, err = Combine(context.Background(), []string{p})
		})
		assert.ErrorIs(t, err, ErrMalformedInput, p)
	}
}

func TestPersistFileMode(t *testing.T) {
	tbl, err := Combine(context.Background(), []string{writeFile(t, t.TempDir(), "a.csv", "height\n60\n")})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, Persist(tbl, out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
