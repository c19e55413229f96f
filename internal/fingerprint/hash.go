package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cespare/xxhash/v2"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA1   = "sha1"
	AlgorithmMD5    = "md5"
	AlgorithmXXH64  = "xxh64"

	// DefaultAlgorithm is used when callers do not name one.
	DefaultAlgorithm = AlgorithmSHA256
)

var algorithms = map[string]func() hash.Hash{
	AlgorithmSHA256: sha256.New,
	AlgorithmSHA1:   sha1.New,
	AlgorithmMD5:    md5.New,
	AlgorithmXXH64:  func() hash.Hash { return xxhash.New() },
}

// Fingerprint is the digest of a normalized header list.
type Fingerprint struct {
	Headers           []string `json:"headers"`
	NormalizedHeaders []string `json:"normalizedHeaders"`
	Hash              string   `json:"headerHash"`
	Algorithm         string   `json:"headerHashAlgorithm"`
	Normalizer        string   `json:"normalizer"`
}

// Algorithms lists the supported algorithm names.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalAlgorithm lower-cases the name and applies the default for "".
func CanonicalAlgorithm(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultAlgorithm, nil
	}
	if _, ok := algorithms[name]; !ok {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported header hash algorithm %q (supported: %s)", name, strings.Join(Algorithms(), ", ")))
	}
	return name, nil
}

// Hash digests the normalized headers in order. The payload is the compact
// JSON array of the headers without HTML escaping, so any client that can
// produce JSON.stringify(headers) can reproduce the digest.
func Hash(normalized []string, algorithm string) (string, error) {
	name, err := CanonicalAlgorithm(algorithm)
	if err != nil {
		return "", err
	}
	payload, err := canonicalPayload(normalized)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode header list").
			WithCause(err)
	}
	h := algorithms[name]()
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute normalizes raw headers and hashes them.
func Compute(raw []string, algorithm string) (Fingerprint, error) {
	name, err := CanonicalAlgorithm(algorithm)
	if err != nil {
		return Fingerprint{}, err
	}
	normalized := Normalize(raw)
	digest, err := Hash(normalized, name)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Headers:           append([]string(nil), raw...),
		NormalizedHeaders: normalized,
		Hash:              digest,
		Algorithm:         name,
		Normalizer:        NormalizerV1,
	}, nil
}

// Matches reports whether claimed equals the digest recomputed from normalized.
func Matches(normalized []string, algorithm, claimed string) (bool, string, error) {
	digest, err := Hash(normalized, algorithm)
	if err != nil {
		return false, "", err
	}
	return strings.EqualFold(strings.TrimSpace(claimed), digest), digest, nil
}

func canonicalPayload(headers []string) ([]byte, error) {
	if headers == nil {
		headers = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(headers); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
