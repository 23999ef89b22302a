package presence

import (
	"bytes"
	"encoding/json"
)

// ID is a user or conversation identifier that backends emit inconsistently
// as either a JSON string or a number. It always unmarshals to the
// canonical string form, so "42" and 42 on the wire compare equal in Go.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*id = ID(Canonical(raw))
	return nil
}

func (id ID) String() string { return string(id) }
