package domain

import (
	"bytes"
	"encoding/json"
)

// legacyUnknown is the placeholder earlier catalog files used for unknown values.
const legacyUnknown = `"N/A"`

// Optional holds a value that may be unknown. Unknown encodes as JSON null.
type Optional[T any] struct {
	value T
	known bool
}

func Known[T any](v T) Optional[T] {
	return Optional[T]{value: v, known: true}
}

func Unknown[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.known
}

func (o Optional[T]) IsKnown() bool {
	return o.known
}

// OrElse returns the value when known and def otherwise.
func (o Optional[T]) OrElse(def T) T {
	if !o.known {
		return def
	}
	return o.value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.known {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(legacyUnknown)) {
		*o = Optional[T]{}
		return nil
	}

	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*o = Known(v)
	return nil
}
