package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// Algorithm identifies the digest attached to an upload
type Algorithm int

const (
	None Algorithm = iota
	MD5
	SHA1
	SHA256
	CRC32
	CRC32C
)

// Default is used when an unknown algorithm name is configured
const Default = None

var names = map[Algorithm]string{
	None:   "none",
	MD5:    "md5",
	SHA1:   "sha1",
	SHA256: "sha256",
	CRC32:  "crc32",
	CRC32C: "crc32c",
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// String returns the lower-case algorithm name
func (a Algorithm) String() string {
	if name, ok := names[a]; ok {
		return name
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// Parse resolves an algorithm name. Unknown names resolve to Default and a
// non-nil error, which callers are expected to surface as a warning.
func Parse(name string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	for alg, algName := range names {
		if algName == n {
			return alg, nil
		}
	}
	return Default, fmt.Errorf("unsupported checksum algorithm %q, falling back to %s", name, Default)
}

// Options is the checksum metadata attached to a single PUT.
// The zero value means no checksum.
type Options struct {
	Algorithm Algorithm
	Value     string
}

// IsSet reports whether the options carry a digest
func (o Options) IsSet() bool {
	return o.Algorithm != None && o.Value != ""
}

// Calculate returns the base64 encoded digest of content.
// For None it returns false.
func Calculate(content []byte, alg Algorithm) (string, bool) {
	var sum []byte

	switch alg {
	case MD5:
		s := md5.Sum(content)
		sum = s[:]
	case SHA1:
		s := sha1.Sum(content)
		sum = s[:]
	case SHA256:
		s := sha256.Sum256(content)
		sum = s[:]
	case CRC32:
		sum = binary.BigEndian.AppendUint32(nil, crc32.ChecksumIEEE(content))
	case CRC32C:
		sum = binary.BigEndian.AppendUint32(nil, crc32.Checksum(content, castagnoli))
	default:
		return "", false
	}

	return base64.StdEncoding.EncodeToString(sum), true
}

// For builds the upload options for content
func For(content []byte, alg Algorithm) Options {
	value, ok := Calculate(content, alg)
	if !ok {
		return Options{}
	}
	return Options{Algorithm: alg, Value: value}
}
