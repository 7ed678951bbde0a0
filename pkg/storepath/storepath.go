// Package storepath formats and parses Nix store paths. It does not
// construct paths from content (computing the hash part is delegated to a
// collaborator, per the store's non-goals); it only knows how to render a
// (hash, name) pair as an absolute path rooted at a store directory, and how
// to parse one back.
package storepath

import (
	"fmt"
	"strings"

	"github.com/Enzime/hnix-store/pkg/nixbase32"
)

// HashSize is the fixed size, in bytes, of a store-path hash part.
const HashSize = 20

// Path is a store path's two logical components: its hash part and its
// human-readable name.
type Path struct {
	Hash [HashSize]byte
	Name string
}

// Store is an absolute store directory, e.g. "/nix/store". It is the root
// against which Path values are formatted and parsed.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir, with any trailing slash trimmed.
func NewStore(dir string) Store {
	return Store{Dir: strings.TrimRight(dir, "/")}
}

// Format renders p as an absolute path string:
// StoreDir + "/" + base32(hash) + "-" + name.
func (s Store) Format(p Path) string {
	return s.Dir + "/" + nixbase32.Encode(p.Hash[:]) + "-" + p.Name
}

// Parse recovers a Path from its absolute wire-form string. It returns an
// error if the string is not rooted at s.Dir, if the hash segment is not a
// valid 32-character Nix base-32 encoding, or if the name is empty.
func (s Store) Parse(path string) (Path, error) {
	prefix := s.Dir + "/"

	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return Path{}, fmt.Errorf("storepath: %q is not rooted at store directory %q", path, s.Dir)
	}

	hashPart, name, ok := strings.Cut(rest, "-")
	if !ok {
		return Path{}, fmt.Errorf("storepath: %q is missing a '-' separator after the hash part", path)
	}

	if name == "" {
		return Path{}, fmt.Errorf("storepath: %q has an empty name", path)
	}

	digest, err := nixbase32.Decode(hashPart, HashSize)
	if err != nil {
		return Path{}, fmt.Errorf("storepath: %q: %w", path, err)
	}

	var p Path

	copy(p.Hash[:], digest)
	p.Name = name

	return p, nil
}

// ParseHashPart decodes a bare base-32 hash part (as used by
// QueryPathFromHashPart) into its raw 20-byte form.
func ParseHashPart(hashPart string) ([HashSize]byte, error) {
	var h [HashSize]byte

	digest, err := nixbase32.Decode(hashPart, HashSize)
	if err != nil {
		return h, fmt.Errorf("storepath: hash part %q: %w", hashPart, err)
	}

	copy(h[:], digest)

	return h, nil
}

// HashPart returns the base-32 encoded hash part of p, as it appears on the
// wire and in QueryPathFromHashPart requests.
func (p Path) HashPart() string {
	return nixbase32.Encode(p.Hash[:])
}
