package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"crowdloc/internal/domain/models"
)

// Hash computes the content digest used for change detection. Keys and
// string values are line-ending normalized and the mapping is serialized
// with sorted keys, so two files with identical semantic content hash
// identically regardless of key order or line-ending convention. Only the
// lineage-id metadata key participates; other metadata is ignored.
func Hash(content *models.Content) (string, error) {
	keys := make([]string, 0, len(content.Entries))
	for k := range content.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canon := make(map[string]any, len(content.Entries)+1)
	canon[models.MetaLineageKey] = Normalize(content.LineageID)
	for _, key := range keys {
		nk := Normalize(key)
		if _, dup := canon[nk]; dup {
			// Distinct raw keys can normalize to the same name; the
			// first in raw-key order wins so the digest stays
			// deterministic instead of depending on map iteration.
			continue
		}
		e := content.Entries[key]
		var value *string
		if e.Value != nil {
			v := Normalize(*e.Value)
			value = &v
		}
		canon[nk] = models.Entry{Value: value, Tag: e.Tag}
	}

	data, err := encode(canon)
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashRaw parses raw bytes and hashes them. Malformed content fails with
// a content-format error.
func HashRaw(raw []byte) (string, error) {
	content, _, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Hash(content)
}
