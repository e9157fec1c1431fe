package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt holds a uint256 contract value. It is stored as decimal text so that
// values wider than 64 bits survive both SQLite and PostgreSQL.
type BigInt struct {
	i *big.Int
}

// NewBigInt copies x into a BigInt; nil becomes zero
func NewBigInt(x *big.Int) BigInt {
	if x == nil {
		return BigInt{i: new(big.Int)}
	}
	return BigInt{i: new(big.Int).Set(x)}
}

// Big returns a copy of the underlying value
func (b BigInt) Big() *big.Int {
	if b.i == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.i)
}

func (b BigInt) String() string {
	if b.i == nil {
		return "0"
	}
	return b.i.String()
}

// Value implements driver.Valuer
func (b BigInt) Value() (driver.Value, error) {
	return b.String(), nil
}

// Scan implements sql.Scanner
func (b *BigInt) Scan(src interface{}) error {
	var text string
	switch v := src.(type) {
	case nil:
		b.i = new(big.Int)
		return nil
	case int64:
		b.i = big.NewInt(v)
		return nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("cannot scan %T into BigInt", src)
	}

	i, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", text)
	}
	b.i = i
	return nil
}

// MarshalJSON encodes the value as a decimal string
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a decimal string or a JSON number
func (b *BigInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.i = new(big.Int)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	return b.Scan(text)
}
