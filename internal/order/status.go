package order

import (
	"encoding/json"
	"fmt"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// Status is the lifecycle state carried by every OrderRecord.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusNew
	StatusAccept
	StatusReject
	StatusConfirmed
	StatusRollback
)

var statusNames = map[Status]string{
	StatusNew:       "NEW",
	StatusAccept:    "ACCEPT",
	StatusReject:    "REJECT",
	StatusConfirmed: "CONFIRMED",
	StatusRollback:  "ROLLBACK",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus maps the wire name to a Status.
func ParseStatus(v string) (Status, error) {
	for s, name := range statusNames {
		if name == v {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: unknown status %q", apperr.ErrMalformed, v)
}

// Stage orders statuses along the saga: NEW, then the per-engine outcome,
// then the resolved status.
func (s Status) Stage() int {
	switch s {
	case StatusNew:
		return 0
	case StatusAccept, StatusReject:
		return 1
	case StatusConfirmed, StatusRollback:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the saga is resolved.
func (s Status) Terminal() bool { return s.Stage() == 2 }

// Outcome reports whether s is a reservation engine decision.
func (s Status) Outcome() bool { return s.Stage() == 1 }

func (s Status) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("marshal status %d: %w", uint8(s), apperr.ErrMalformed)
	}
	return json.Marshal(name)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: status: %v", apperr.ErrMalformed, err)
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Source identifies the reservation engine that produced an outcome.
type Source uint8

const (
	SourceNone Source = iota
	SourcePayment
	SourceInventory
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return ""
	case SourcePayment:
		return "PAYMENT"
	case SourceInventory:
		return "INVENTORY"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// ParseSource maps the wire name to a Source. The empty string is SourceNone.
func ParseSource(v string) (Source, error) {
	switch v {
	case "":
		return SourceNone, nil
	case "PAYMENT":
		return SourcePayment, nil
	case "INVENTORY":
		return SourceInventory, nil
	default:
		return SourceNone, fmt.Errorf("%w: unknown source %q", apperr.ErrMalformed, v)
	}
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s > SourceInventory {
		return nil, fmt.Errorf("marshal source %d: %w", uint8(s), apperr.ErrMalformed)
	}
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SourceNone
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: source: %v", apperr.ErrMalformed, err)
	}
	parsed, err := ParseSource(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
