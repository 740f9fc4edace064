package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// record is the on-disk and on-wire shape shared by every durable store backend.
type record struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	SavedAt string `json:"saved_at"`
}

// EncodeRecord serializes a token pair for persistence.
func EncodeRecord(access, refresh string) ([]byte, error) {
	if err := checkPair(access, refresh); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(record{
		Access:  access,
		Refresh: refresh,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: marshal token record: %w", err)
	}
	return raw, nil
}

// DecodeRecord parses a persisted token pair. Empty input decodes to an empty pair.
// A record carrying only one half is treated as empty so callers never observe a partial pair.
func DecodeRecord(data []byte) (TokenPair, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return TokenPair{}, nil
	}
	if !gjson.ValidBytes(data) {
		return TokenPair{}, fmt.Errorf("auth: token record is not valid json")
	}
	parsed := gjson.ParseBytes(data)
	pair := TokenPair{
		Access:  strings.TrimSpace(parsed.Get("access").String()),
		Refresh: strings.TrimSpace(parsed.Get("refresh").String()),
	}
	if !pair.Valid() {
		return TokenPair{}, nil
	}
	return pair, nil
}
