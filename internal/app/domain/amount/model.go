package amount

import "github.com/shopspring/decimal"

// Entry is one row of the swap amount table. Position keys form a small dense
// range starting at 1.
type Entry struct {
	PositionKey int             `json:"position_key" db:"position_key"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
}
