package money

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Sats represents a bitcoin amount in satoshis (1 BTC = 100_000_000 Sats),
// the native unit of the lightning-channel rail's BOLT11 invoices.
type Sats int64

// Value implements database/sql/driver.Valuer.
func (s Sats) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements database/sql.Scanner.
func (s *Sats) Scan(src any) error {
	if s == nil {
		return fmt.Errorf("money: scan into nil *Sats")
	}
	switch v := src.(type) {
	case nil:
		*s = 0
	case int64:
		*s = Sats(v)
	case int32:
		*s = Sats(v)
	case int:
		*s = Sats(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("money: cannot parse %q as Sats: %w", v, err)
		}
		*s = Sats(parsed)
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("money: cannot parse %q as Sats: %w", string(v), err)
		}
		*s = Sats(parsed)
	default:
		return fmt.Errorf("money: cannot scan %T into Sats", src)
	}
	return nil
}

func (s Sats) String() string {
	return strconv.FormatInt(int64(s), 10) + " sats"
}
