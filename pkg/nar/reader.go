package nar

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strings"
)

var byteOrder = binary.LittleEndian

var zeroPad [8]byte

func token(parts ...string) []byte {
	var buf bytes.Buffer

	for _, part := range parts {
		binary.Write(&buf, byteOrder, uint64(len(part))) //nolint:errcheck // bytes.Buffer never errors

		buf.WriteString(part)

		if n := len(part) & 7; n != 0 {
			buf.Write(zeroPad[n:])
		}
	}

	return buf.Bytes()
}

// precomputed structural tokens, compared against the input as raw bytes
// rather than re-parsed field by field.
var (
	tokHeader = token("nix-archive-1", "(", "type")
	tokRegular = token("regular", "contents")
	tokExecutable = token("regular", "executable", "", "contents")
	tokSymlink = token("symlink", "target")
	tokDirectory = token("directory")
	tokEntry = token("entry", "(", "name")
	tokNode = token("node", "(", "type")
	tokClose = token(")")
)

// EntryKind identifies the kind of filesystem object a Reader has
// positioned on.
type EntryKind byte

const (
	KindSymlink EntryKind = 6
	KindFile    EntryKind = 8
	KindExecutableFile EntryKind = 10
	KindDirectory      EntryKind = 'y'
)

// Reader walks the entries of a NAR archive in depth-first order, similar in
// spirit to archive/tar.Reader: call Next to advance to the next entry, then
// use Read to consume a file's contents before calling Next again.
type Reader interface {
	// Next advances to the next entry and returns its kind. It returns
	// io.EOF once the archive is fully consumed.
	Next() (EntryKind, error)
	// Name returns the base name of the current entry.
	Name() string
	// Path returns the current entry's full path relative to the archive
	// root, e.g. "/bin/sh".
	Path() string
	// Target returns the symlink target, valid only when Next returned
	// KindSymlink.
	Target() string
	// Size returns the remaining unread byte count of a file entry.
	Size() uint64
	io.Reader
}

// NewReader returns a Reader that decodes the NAR archive read from rd.
func NewReader(rd io.Reader) Reader {
	return &reader{
		r:    bufio.NewReader(rd),
		path: "/",
	}
}

type reader struct {
	r      *bufio.Reader
	err    error
	depth  uint32
	name   string
	path   string
	target string
	size   uint64
	pad    byte

	pathStack []string
}

var (
	errInvalid = fmt.Errorf("nar: invalid input")
	errTooLarge = fmt.Errorf("nar: file entry exceeds the size limit")
)

func (r *reader) fail(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}

	if r.err == nil {
		r.err = err
	}

	return r.err
}

func (r *reader) Next() (EntryKind, error) {
	if r.err != nil {
		return 0, r.err
	}

	if r.size != 0 {
		if _, err := io.Copy(io.Discard, r); err != nil {
			r.fail(err)

			return 0, r.err
		}
	}

	for {
		if r.depth == 0 {
			buf := r.peek(16)
			if buf == nil {
				if r.err == io.ErrUnexpectedEOF {
					r.err = io.EOF
				}

				return 0, r.err
			}

			if buf[0] == 1 { // closing paren at the root: malformed, there is no open node
				r.readClose()

				if r.err == nil {
					r.err = io.EOF
				}

				return 0, r.err
			}

			r.consume(tokHeader)
			if r.err != nil {
				return 0, r.err
			}
		} else {
			buf := r.peek(16)
			if buf == nil {
				return 0, r.err
			}

			switch buf[0] {
			default:
				r.fail(errInvalid)

				return 0, r.err

			case 1: // ")" closes the current directory
				r.depth--
				r.readClose()

				if len(r.pathStack) > 0 {
					r.pathStack = r.pathStack[:len(r.pathStack)-1]
				}

				r.updatePath()

				if r.depth == 0 {
					if r.err == nil {
						r.err = io.EOF
					}

					return 0, r.err
				}

				// This directory was itself a directory entry nested inside
				// a parent; closing it doesn't end the walk, it just moves
				// the cursor back up to the parent's remaining entries or
				// its own closing paren.
				continue

			case 5: // "entry"
				r.consume(tokEntry)
				if r.err != nil {
					return 0, r.err
				}

				r.name = r.readString(255)
				if r.err != nil {
					return 0, r.err
				}

				r.consume(tokNode)
				if r.err != nil {
					return 0, r.err
				}
			}
		}

		break
	}

	buf := r.peek(32)
	if buf == nil {
		return 0, r.err
	}

	switch buf[16] {
	default:
		r.fail(errInvalid)

		return 0, r.err

	case byte(KindSymlink):
		r.consume(tokSymlink)
		if r.err != nil {
			return 0, r.err
		}

		r.target = r.readString(4095)
		if r.err != nil {
			return 0, r.err
		}

		r.readClose()

		return KindSymlink, r.err

	case byte(KindFile):
		r.consume(tokRegular)
		if r.err != nil {
			return 0, r.err
		}

		r.readFile()

		return KindFile, r.err

	case byte(KindExecutableFile):
		r.consume(tokExecutable)
		if r.err != nil {
			return 0, r.err
		}

		r.readFile()

		return KindExecutableFile, r.err

	case byte(KindDirectory):
		r.consume(tokDirectory)
		if r.err != nil {
			return 0, r.err
		}

		r.depth++
		r.pathStack = append(r.pathStack, r.name)
		r.updatePath()

		return KindDirectory, r.err
	}
}

func (r *reader) updatePath() {
	if len(r.pathStack) == 0 {
		r.path = "/"

		return
	}

	r.path = "/" + path.Join(r.pathStack...)
}

func (r *reader) Path() string {
	if len(r.pathStack) > 0 && r.path != "/" && strings.HasSuffix(r.path, "/"+r.name) {
		return r.path
	}

	if r.name == "" {
		return r.path
	}

	if r.path == "/" {
		return "/" + r.name
	}

	return r.path + "/" + r.name
}

func (r *reader) readFile() {
	r.size, _ = r.readInt()
	r.pad = byte(r.size & 7)

	if r.size > 1<<40 {
		r.fail(errTooLarge)
	}

	if r.size == 0 {
		r.readClose()
	}
}

func (r *reader) readClose() {
	r.consume(tokClose)

	if r.depth > 0 {
		r.consume(tokClose)
	}
}

func (r *reader) Name() string {
	return r.name
}

func (r *reader) Target() string {
	return r.target
}

func (r *reader) Size() uint64 {
	return r.size
}

func (r *reader) Read(buf []byte) (int, error) {
	if r.size == 0 {
		return 0, io.EOF
	}

	if uint64(len(buf)) > r.size {
		buf = buf[:r.size]
	}

	n, err := r.r.Read(buf)
	r.size -= uint64(n)

	if err != nil {
		r.fail(err)
	} else if r.size == 0 {
		r.consumePadding(int(r.pad))
		r.pad = 0
		r.readClose()
	}

	return n, err
}

func (r *reader) peek(n int) []byte {
	if r.err != nil {
		return nil
	}

	buf, err := r.r.Peek(n)
	if err != nil {
		r.fail(err)

		return nil
	}

	return buf
}

func (r *reader) take(n int) []byte {
	buf := r.peek(n)
	if buf == nil {
		return nil
	}

	r.r.Discard(n) //nolint:errcheck // length already validated by Peek

	return buf
}

func (r *reader) consume(tok []byte) {
	buf := r.peek(len(tok))
	if buf == nil {
		return
	}

	if !bytes.Equal(buf, tok) {
		r.fail(errInvalid)

		return
	}

	r.r.Discard(len(tok)) //nolint:errcheck // length already validated by Peek
}

func (r *reader) readInt() (uint64, bool) {
	buf := r.take(8)
	if buf == nil {
		return 0, false
	}

	return byteOrder.Uint64(buf), true
}

func (r *reader) consumePadding(n int) {
	n &= 7
	if n != 0 {
		r.consume(zeroPad[n:])
	}
}

func (r *reader) readString(max int) string {
	n, ok := r.readInt()
	if !ok {
		return ""
	}

	if n > uint64(max) {
		r.fail(errTooLarge)

		return ""
	}

	if n == 0 {
		r.fail(errInvalid)

		return ""
	}

	s := string(r.take(int(n)))
	r.consumePadding(int(n))

	return s
}
