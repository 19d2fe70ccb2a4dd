package tariff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Document is a rate database response holding one or more rate structures
// for a utility. Only the fields used to build a Schedule are decoded.
type Document struct {
	Items []Item `json:"items"`
}

// Item is a single published rate structure.
type Item struct {
	Label       string   `json:"label"`
	Name        string   `json:"name"`
	Utility     string   `json:"utility"`
	EIAID       flexID   `json:"eiaid,omitempty"`
	Description string   `json:"description,omitempty"`
	Sector      string   `json:"sector,omitempty"`
	Source      string   `json:"source,omitempty"`
	URI         string   `json:"uri,omitempty"`
	StartDate   UnixTime `json:"startdate,omitzero"`
	EndDate     UnixTime `json:"enddate,omitzero"`
	IsDefault   bool     `json:"is_default,omitempty"`

	// EnergyRateStructure is indexed by period; each period lists its usage
	// blocks, of which only the first is priced.
	EnergyRateStructure [][]RateBlock `json:"energyratestructure,omitempty"`

	// The schedules are 12 rows (January first) of per-slot period indices.
	EnergyWeekdaySchedule [][]int `json:"energyweekdayschedule,omitempty"`
	EnergyWeekendSchedule [][]int `json:"energyweekendschedule,omitempty"`
}

// RateBlock is one usage block of a period.
type RateBlock struct {
	Rate float64  `json:"rate"`
	Adj  float64  `json:"adj,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Unit string   `json:"unit,omitempty"`
}

// Price is the block's rate including adjustments.
func (b RateBlock) Price() float64 {
	return b.Rate + b.Adj
}

// UnixTime is a timestamp encoded as seconds since the epoch.
type UnixTime struct {
	time.Time
}

func (u UnixTime) MarshalJSON() ([]byte, error) {
	if u.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, u.Unix(), 10), nil
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		u.Time = time.Time{}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid unix time %s: %w", b, err)
	}
	secs, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid unix time %s: %w", b, err)
	}
	if secs == 0 {
		u.Time = time.Time{}
		return nil
	}
	u.Time = time.Unix(secs, 0).UTC()
	return nil
}

// flexID accepts identifiers that are published as either strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*f = flexID(n.String())
	return nil
}

// String returns the identifier.
func (f flexID) String() string {
	return string(f)
}

// Decode reads a tariff document. Both the full response form
// ({"items": [...]}) and a single bare item are accepted.
func Decode(r io.Reader) (Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Document{}, &SchemaError{Reason: "failed to read document", Err: err}
	}
	return DecodeBytes(raw)
}

// DecodeBytes is like Decode for an in-memory document.
func DecodeBytes(raw []byte) (Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Document{}, &SchemaError{Reason: "failed to decode document", Err: err}
	}

	var doc Document
	if _, ok := probe["items"]; ok {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, &SchemaError{Reason: "failed to decode items", Err: err}
		}
	} else {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return Document{}, &SchemaError{Reason: "failed to decode item", Err: err}
		}
		doc.Items = []Item{item}
	}
	if len(doc.Items) == 0 {
		return Document{}, &SchemaError{Reason: "no rate structures", Err: ErrNoItems}
	}
	return doc, nil
}

// Encode writes the document in its full response form.
func (d Document) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(d)
}
