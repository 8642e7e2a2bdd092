package vm

import (
	"fmt"

	"simplify/internal/dex"
)

// RegisterStore is a typed value cell. Value is a concrete Go value in its
// canonical representation, nil for null, or Unknown.
type RegisterStore struct {
	Type  string
	Value any
}

func NewRegisterStore(typ string, value any) *RegisterStore {
	return &RegisterStore{Type: typ, Value: value}
}

func NewUnknownStore(typ string) *RegisterStore {
	return &RegisterStore{Type: typ, Value: Unknown}
}

// IsUnknown reports whether the store holds no concrete value.
func (r *RegisterStore) IsUnknown() bool {
	return r == nil || IsUnknown(r.Value)
}

// IsWide reports whether the store occupies a register pair.
func (r *RegisterStore) IsWide() bool {
	return r != nil && dex.IsWide(r.Type)
}

// Clone returns a copy with an independent value.
func (r *RegisterStore) Clone() *RegisterStore {
	if r == nil {
		return nil
	}
	return &RegisterStore{Type: r.Type, Value: CloneValue(r.Value)}
}

func (r *RegisterStore) String() string {
	if r == nil {
		return "<unset>"
	}
	return fmt.Sprintf("type=%s, value=%s", r.Type, FormatValue(r.Value))
}
