package config

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// hashJSON fingerprints the JSON form of v. Unencodable values and nil hash to 0, so
// they never compare equal to a real config.
func hashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return 0
	}
	return xxhash.Sum64(b)
}
