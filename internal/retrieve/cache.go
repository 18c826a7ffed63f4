package retrieve

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// QueryCacheParams is every retrieval parameter that affects the result
// set, used to derive a stable cache key.
type QueryCacheParams struct {
	KnowledgeBaseID string
	Mode            string
	Query           string
	K               int
	RerankMode      string
	ScoreThreshold  float64
	Filters         map[string]string
	Alpha           *float64
}

// QueryCacheKey derives a stable cache key from the retrieval parameters
// that affect the result set, for use with storage.Cache. Filters are
// sorted by key before hashing so equivalent maps always hash the same.
func QueryCacheKey(p QueryCacheParams) string {
	filterKeys := make([]string, 0, len(p.Filters))
	for key := range p.Filters {
		filterKeys = append(filterKeys, key)
	}
	sort.Strings(filterKeys)
	var filterPart strings.Builder
	for _, key := range filterKeys {
		filterPart.WriteString(key)
		filterPart.WriteByte('=')
		filterPart.WriteString(p.Filters[key])
		filterPart.WriteByte(';')
	}

	alphaPart := "nil"
	if p.Alpha != nil {
		alphaPart = strconv.FormatFloat(*p.Alpha, 'f', -1, 64)
	}

	raw := strings.Join([]string{
		p.Mode, p.Query, p.RerankMode,
		strconv.FormatFloat(p.ScoreThreshold, 'f', -1, 64),
		filterPart.String(), alphaPart,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return "retrieve:" + p.KnowledgeBaseID + ":" + hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(p.K)
}

// EncodeResults serializes fused results for storage in a Cache.
func EncodeResults(results []Fused) (string, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeResults deserializes results previously produced by EncodeResults.
func DecodeResults(data string) ([]Fused, error) {
	var results []Fused
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		return nil, err
	}
	return results, nil
}
