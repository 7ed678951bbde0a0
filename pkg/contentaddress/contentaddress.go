// Package contentaddress parses the textual content-address descriptors
// used in the Nix daemon's QueryPathInfo reply (e.g. "fixed:r:sha256:...",
// "text:sha256:...", "fixed:sha256:..."). It only parses; it does not
// compute content addresses from data (that belongs to a store-path
// construction collaborator, out of scope here), and does not itself verify
// hashes.
package contentaddress

import (
	"fmt"
	"strings"
)

// Method describes how the contents of a store object were hashed to
// produce its content address.
type Method int

const (
	// MethodFlat hashes the raw bytes of a single file.
	MethodFlat Method = iota
	// MethodRecursive hashes the NAR serialisation of a file-system tree.
	MethodRecursive
	// MethodText hashes a text file and records its references separately
	// (used for derivations and other generated text).
	MethodText
	// MethodIPFS references content by IPFS CID rather than by a Nix hash
	// algorithm/digest pair.
	MethodIPFS
)

func (m Method) String() string {
	switch m {
	case MethodFlat:
		return "flat"
	case MethodRecursive:
		return "recursive"
	case MethodText:
		return "text"
	case MethodIPFS:
		return "ipfs"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ContentAddress is the parsed form of a daemon content-address descriptor
// string.
type ContentAddress struct {
	Method    Method
	HashAlgo  string // "sha256", "sha1", "md5", "sha512"
	HashHex   string // lowercase hex digest, as it appears after the algorithm
	CID       string // set only for MethodIPFS
	Raw       string // the original descriptor string, preserved verbatim
}

// Parse decodes a descriptor of the form:
//
//	"text:" hashAlgo ":" hashHex
//	"fixed:r:" hashAlgo ":" hashHex   (recursive/NAR hashing)
//	"fixed:" hashAlgo ":" hashHex     (flat hashing)
//
// An empty string is not a valid descriptor; callers should check for
// "absent" (no content address) before calling Parse, matching the
// maybe<path>-style convention used elsewhere on the wire.
func Parse(s string) (ContentAddress, error) {
	if s == "" {
		return ContentAddress{}, fmt.Errorf("contentaddress: empty descriptor")
	}

	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ContentAddress{}, fmt.Errorf("contentaddress: %q is missing a ':' separator", s)
	}

	switch kind {
	case "text":
		algo, hex, ok := strings.Cut(rest, ":")
		if !ok {
			return ContentAddress{}, fmt.Errorf("contentaddress: malformed text descriptor %q", s)
		}

		if algo != "sha256" {
			return ContentAddress{}, fmt.Errorf("contentaddress: text descriptor must use sha256, got %q", algo)
		}

		return ContentAddress{Method: MethodText, HashAlgo: algo, HashHex: hex, Raw: s}, nil

	case "fixed":
		method := MethodFlat

		if r, ok := strings.CutPrefix(rest, "r:"); ok {
			method = MethodRecursive
			rest = r
		}

		algo, hex, ok := strings.Cut(rest, ":")
		if !ok {
			return ContentAddress{}, fmt.Errorf("contentaddress: malformed fixed descriptor %q", s)
		}

		if err := validateAlgo(algo); err != nil {
			return ContentAddress{}, fmt.Errorf("contentaddress: %q: %w", s, err)
		}

		return ContentAddress{Method: method, HashAlgo: algo, HashHex: hex, Raw: s}, nil

	case "ipfs":
		if rest == "" {
			return ContentAddress{}, fmt.Errorf("contentaddress: empty ipfs CID in %q", s)
		}

		return ContentAddress{Method: MethodIPFS, CID: rest, Raw: s}, nil

	default:
		return ContentAddress{}, fmt.Errorf("contentaddress: unknown descriptor kind %q in %q", kind, s)
	}
}

func validateAlgo(algo string) error {
	switch algo {
	case "sha256", "sha1", "md5", "sha512":
		return nil
	default:
		return fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// String renders the original descriptor text.
func (ca ContentAddress) String() string {
	return ca.Raw
}
