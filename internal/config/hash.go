package config

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ConfigHash returns the sha1 hex digest of the canonicalized (stable
// key-order) JSON encoding of cfg, per spec.md §9's re-architecture note:
// "config_hash is the SHA-1 of the canonicalized merged config."
func ConfigHash(cfg Config) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canon, err := canonicalMarshal(generic)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalMarshal re-encodes v with map keys sorted at every level so the
// digest is independent of Go's randomized map iteration order.
func canonicalMarshal(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
