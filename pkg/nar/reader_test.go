package nar_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/Enzime/hnix-store/pkg/nar"
	"github.com/Enzime/hnix-store/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderEmptyDirectory(t *testing.T) {
	data := genEmptyDirectoryNar(t)
	r := nar.NewReader(bytes.NewReader(data))

	kind, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, nar.KindDirectory, kind)
	assert.Equal(t, "/", r.Path())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderRegularFile(t *testing.T) {
	data := genOneByteRegularNar(t)
	r := nar.NewReader(bytes.NewReader(data))

	kind, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, nar.KindFile, kind)
	assert.EqualValues(t, 1, r.Size())

	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x1), buf[0])

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderSymlink(t *testing.T) {
	data := genSymlinkNar(t)
	r := nar.NewReader(bytes.NewReader(data))

	kind, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, nar.KindSymlink, kind)
	assert.Equal(t, "/nix/store/somewhereelse", r.Target())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

// genDirectoryTreeNar builds a NAR with a root directory containing a
// regular file, a symlink, an executable, and a nested subdirectory,
// entries in the lexicographic order the real encoder requires.
func genDirectoryTreeNar(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer

	write := func(s string) {
		require.NoError(t, wire.WriteString(&buf, s))
	}
	writeData := func(b []byte) {
		require.NoError(t, wire.WriteBytes(&buf, b))
	}

	write("nix-archive-1")
	write("(")
	write("type")
	write("directory")

	write("entry")
	write("(")
	write("name")
	write("file.txt")
	write("node")
	write("(")
	write("type")
	write("regular")
	write("contents")
	writeData([]byte("hello"))
	write(")")
	write(")")

	write("entry")
	write("(")
	write("name")
	write("link")
	write("node")
	write("(")
	write("type")
	write("symlink")
	write("target")
	write("file.txt")
	write(")")
	write(")")

	write("entry")
	write("(")
	write("name")
	write("script.sh")
	write("node")
	write("(")
	write("type")
	write("regular")
	write("executable")
	write("")
	write("contents")
	writeData([]byte("#!/bin/bash"))
	write(")")
	write(")")

	write("entry")
	write("(")
	write("name")
	write("subdir")
	write("node")
	write("(")
	write("type")
	write("directory")
	write("entry")
	write("(")
	write("name")
	write("nested.txt")
	write("node")
	write("(")
	write("type")
	write("regular")
	write("contents")
	writeData([]byte("test"))
	write(")")
	write(")")
	write(")")
	write(")")

	write(")")

	return buf.Bytes()
}

func TestReaderWalksNestedTree(t *testing.T) {
	data := genDirectoryTreeNar(t)
	r := nar.NewReader(bytes.NewReader(data))

	type seen struct {
		kind nar.EntryKind
		path string
	}

	var got []seen

	for {
		kind, err := r.Next()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)
		got = append(got, seen{kind, r.Path()})

		if kind == nar.KindFile || kind == nar.KindExecutableFile {
			_, err := io.Copy(io.Discard, r)
			require.NoError(t, err)
		}
	}

	want := []seen{
		{nar.KindDirectory, "/"},
		{nar.KindFile, "/file.txt"},
		{nar.KindSymlink, "/link"},
		{nar.KindExecutableFile, "/script.sh"},
		{nar.KindDirectory, "/subdir"},
		{nar.KindFile, "/subdir/nested.txt"},
	}
	assert.Equal(t, want, got)
}

func TestReaderMatchesCopyOneBoundary(t *testing.T) {
	data := genDirectoryTreeNar(t)

	var dst bytes.Buffer
	require.NoError(t, nar.CopyOne(&dst, bytes.NewReader(data)))
	assert.Equal(t, data, dst.Bytes())
}
