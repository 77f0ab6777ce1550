package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexUint is an unsigned integer that accepts either a plain JSON
// number or a decimal/"0x"-prefixed-hex string (spec §4.D: "Numeric
// fields accept decimal or 0x-prefixed hex strings if represented as
// strings; plain numbers are also accepted").
type FlexUint uint64

func (f *FlexUint) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return fmt.Errorf("numeric field must not be negative, got %v", v)
		}
		*f = FlexUint(uint64(v))
	case string:
		s := strings.TrimSpace(v)
		base := 10
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			base = 16
			s = s[2:]
		}
		n, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", v, err)
		}
		*f = FlexUint(n)
	default:
		return fmt.Errorf("expected number or numeric string, got %T", raw)
	}
	return nil
}

func (f FlexUint) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint64(f))
}

func (f FlexUint) Uint64() uint64 { return uint64(f) }
func (f FlexUint) Uint32() uint32 { return uint32(f) }
