package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// Decode parses a Record strictly: unknown fields, trailing data and invalid
// values are all rejected with apperr.ErrMalformed.
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, apperr.ErrMalformed) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %v", apperr.ErrMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Record{}, fmt.Errorf("%w: trailing data after record", apperr.ErrMalformed)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Encode validates and marshals r.
func Encode(r Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal order %s: %w", r.OrderID, err)
	}
	return body, nil
}
