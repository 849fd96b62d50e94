package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// GenerateParamsHash produces a stable fingerprint for trigger parameters so
// the on-chain record can be matched against the stored configuration.
// Only the top-level keys are sorted; nested objects keep their own encoding.
// Null values are preserved.
func GenerateParamsHash(params map[string]interface{}, salt string) (string, error) {
	canonical, err := canonicalTopLevelJSON(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize params: %w", err)
	}

	sum := sha256.Sum256([]byte(salt + ":" + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalTopLevelJSON renders the map as a JSON object with keys in
// alphabetical order. Values are marshalled with encoding/json as-is.
func canonicalTopLevelJSON(params map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return "", err
		}
		valJSON, err := json.Marshal(params[k])
		if err != nil {
			return "", err
		}
		sb.Write(keyJSON)
		sb.WriteByte(':')
		sb.Write(valJSON)
	}
	sb.WriteByte('}')

	return sb.String(), nil
}
