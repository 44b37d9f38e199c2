package loan

import (
	"fmt"

	"loanflow/internal/flow"
)

// Draft holds the scalar answers of one in-progress form. Every field the
// flow declares is present, empty until set. A Draft is owned by its
// Session and is not safe for concurrent use on its own.
type Draft struct {
	flow   *flow.Flow
	values map[string]string
}

// NewDraft returns an empty draft for the flow.
func NewDraft(f *flow.Flow) *Draft {
	d := &Draft{flow: f}
	d.Reset()
	return d
}

// Set stores value under name. Names the flow does not declare are rejected.
func (d *Draft) Set(name, value string) error {
	if _, ok := d.values[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	d.values[name] = value
	return nil
}

// Get returns the value of name.
func (d *Draft) Get(name string) string { return d.values[name] }

// Values returns a copy of all values.
func (d *Draft) Values() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Reset empties every field.
func (d *Draft) Reset() {
	d.values = make(map[string]string)
	for _, fd := range d.flow.Fields() {
		d.values[fd.Name] = ""
	}
}
