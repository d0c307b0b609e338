package account

// Account is a managed identity eligible for inclusion in a swap batch. The ID
// is assigned externally at import time; Secret holds WIF-encoded key material.
type Account struct {
	ID     int64  `json:"id" db:"id"`
	Secret string `json:"secret,omitempty" db:"secret"`
}

// Redacted returns a copy without key material, safe for logging and APIs.
func (a Account) Redacted() Account {
	a.Secret = ""
	return a
}

// IDRange is the inclusive [Min, Max] span of known account identifiers.
type IDRange struct {
	Min int64 `db:"min_id"`
	Max int64 `db:"max_id"`
}

// Size returns the number of identifiers covered by the range.
func (r IDRange) Size() int64 {
	if r.Max < r.Min {
		return 0
	}
	return r.Max - r.Min + 1
}
