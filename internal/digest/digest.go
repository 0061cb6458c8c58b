// Package digest computes the content addresses of object payloads.
//
// An object id is the lowercase hex encoding of the digest of the raw
// (uncompressed) bytes, so identical content always maps to the same id
// regardless of the compression it is stored with.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Algorithm identifies a hash function. Values are persisted with bucket
// configuration and must not be reordered.
type Algorithm uint8

const (
	// Unspecified selects the default algorithm (SHA256) at bucket creation.
	Unspecified Algorithm = iota
	MD5
	SHA224
	SHA256
	SHA384
	SHA512
	SHA3_256
	BLAKE3
)

// Default is the algorithm used when a bucket does not choose one.
const Default = SHA256

var (
	// ErrUnknownAlgorithm is returned for names or values outside the supported set.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

	// ErrInvalidID is returned when a string is not a well-formed id for an algorithm.
	ErrInvalidID = errors.New("invalid object id")
)

// multicodec codes from the multiformats table.
const (
	codeMD5      = 0xd5
	codeSHA224   = 0x1013
	codeSHA256   = 0x12
	codeSHA384   = 0x20
	codeSHA512   = 0x13
	codeSHA3_256 = 0x16
	codeBLAKE3   = 0x1e
)

// All returns every supported algorithm.
func All() []Algorithm {
	return []Algorithm{MD5, SHA224, SHA256, SHA384, SHA512, SHA3_256, BLAKE3}
}

// String returns the canonical lowercase name.
func (a Algorithm) String() string {
	switch a {
	case Unspecified:
		return "unspecified"
	case MD5:
		return "md5"
	case SHA224:
		return "sha224"
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	case SHA3_256:
		return "sha3-256"
	case BLAKE3:
		return "blake3"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Valid reports whether a is a concrete supported algorithm.
func (a Algorithm) Valid() bool {
	return a >= MD5 && a <= BLAKE3
}

// Parse parses an algorithm name ("sha256", "SHA-256", "blake3", ...).
func Parse(name string) (Algorithm, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "md5":
		return MD5, nil
	case "sha224", "sha-224":
		return SHA224, nil
	case "sha256", "sha-256":
		return SHA256, nil
	case "sha384", "sha-384":
		return SHA384, nil
	case "sha512", "sha-512":
		return SHA512, nil
	case "sha3-256":
		return SHA3_256, nil
	case "blake3":
		return BLAKE3, nil
	default:
		return Unspecified, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) {
	if a != Unspecified && !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == "unspecified" {
		*a = Unspecified
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA224:
		return sha256.Size224
	case SHA256, SHA3_256, BLAKE3:
		return 32
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	default:
		return 0
	}
}

// Sum returns the raw digest of data. It panics on an invalid algorithm;
// bucket configuration is validated before any content is hashed.
func (a Algorithm) Sum(data []byte) []byte {
	switch a {
	case MD5:
		sum := md5.Sum(data)
		return sum[:]
	case SHA224:
		sum := sha256.Sum224(data)
		return sum[:]
	case SHA256:
		sum := sha256.Sum256(data)
		return sum[:]
	case SHA384:
		sum := sha512.Sum384(data)
		return sum[:]
	case SHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	case SHA3_256:
		sum := sha3.Sum256(data)
		return sum[:]
	case BLAKE3:
		sum := blake3.Sum256(data)
		return sum[:]
	default:
		panic("digest: sum with invalid algorithm " + a.String())
	}
}

// Hex returns the lowercase hex digest of data. This is the object id form.
func (a Algorithm) Hex(data []byte) string {
	return hex.EncodeToString(a.Sum(data))
}

// Decode parses a hex id produced by a and returns the raw digest.
func (a Algorithm) Decode(id string) ([]byte, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if len(raw) != a.Size() {
		return nil, fmt.Errorf("%w: %d bytes, %s digests are %d bytes", ErrInvalidID, len(raw), a, a.Size())
	}
	if strings.ToLower(id) != id {
		return nil, fmt.Errorf("%w: ids are lowercase hex", ErrInvalidID)
	}
	return raw, nil
}

// Verify reports whether data hashes to id under a.
func (a Algorithm) Verify(id string, data []byte) bool {
	return a.Hex(data) == id
}

func (a Algorithm) multicodec() (uint64, error) {
	switch a {
	case MD5:
		return codeMD5, nil
	case SHA224:
		return codeSHA224, nil
	case SHA256:
		return codeSHA256, nil
	case SHA384:
		return codeSHA384, nil
	case SHA512:
		return codeSHA512, nil
	case SHA3_256:
		return codeSHA3_256, nil
	case BLAKE3:
		return codeBLAKE3, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, a)
	}
}

// CID renders an object id as a CIDv1 with the raw multicodec, so objects can
// be referenced from IPFS-aware tooling.
func (a Algorithm) CID(id string) (cid.Cid, error) {
	raw, err := a.Decode(id)
	if err != nil {
		return cid.Undef, err
	}
	code, err := a.multicodec()
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Encode(raw, code)
	if err != nil {
		return cid.Undef, fmt.Errorf("encode multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(mh)), nil
}
