// Package options implements cascading option lists for select fields.
//
// A Provider holds a table of rows, each with one value and one label per
// field. Selecting a value in field i narrows the options offered for field
// i+1 to the rows that match every selected value before it.
package options

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NonWordCharacters separate the tokens of a label for label search.
const NonWordCharacters = " \t\n\f\r\\||!\"£$%&/()='?^[]+*@#<>,;.:-_"

// ErrShape reports rows that do not have one cell per field.
var ErrShape = errors.New("option rows do not match field count")

// Provider is not safe for concurrent use; it belongs to a single form.
type Provider struct {
	name        string
	fieldCount  int
	rows        [][]any
	labels      [][]string
	values      []any
	labelSearch []string
	options     []*orderedmap.OrderedMap[any, string]

	needsValidation bool
}

// New builds a provider over fieldCount fields.
func New(name string, fieldCount int, rows [][]any, labels [][]string) (*Provider, error) {
	if fieldCount <= 0 {
		return nil, fmt.Errorf("%s: %w: field count %d", name, ErrShape, fieldCount)
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("%s: %w: %d value rows, %d label rows", name, ErrShape, len(rows), len(labels))
	}
	for i := range rows {
		if len(rows[i]) != fieldCount || len(labels[i]) != fieldCount {
			return nil, fmt.Errorf("%s: %w: row %d", name, ErrShape, i)
		}
		for j, v := range rows[i] {
			if v != nil && !reflect.TypeOf(v).Comparable() {
				return nil, fmt.Errorf("%s: row %d field %d: value of type %T is not comparable", name, i, j, v)
			}
		}
	}
	p := &Provider{
		name:            name,
		fieldCount:      fieldCount,
		rows:            rows,
		labels:          labels,
		values:          make([]any, fieldCount),
		labelSearch:     make([]string, fieldCount),
		options:         make([]*orderedmap.OrderedMap[any, string], fieldCount),
		needsValidation: true,
	}
	for i := range p.options {
		p.options[i] = orderedmap.New[any, string]()
	}
	return p, nil
}

// NewSingle builds a one-field provider from parallel value and label lists.
func NewSingle(name string, values []any, labels []string) (*Provider, error) {
	if len(values) != len(labels) {
		return nil, fmt.Errorf("%s: %w: %d values, %d labels", name, ErrShape, len(values), len(labels))
	}
	rows := make([][]any, len(values))
	ls := make([][]string, len(labels))
	for i := range values {
		rows[i] = []any{values[i]}
		ls[i] = []string{labels[i]}
	}
	return New(name, 1, rows, ls)
}

// FromObjects builds a provider with one field per key function. Labels come
// from format when given, otherwise from the formatted field value.
func FromObjects[T any](name string, objects []T, format func(T) string, keys ...func(T) any) (*Provider, error) {
	rows := make([][]any, len(objects))
	labels := make([][]string, len(objects))
	for i, o := range objects {
		rows[i] = make([]any, len(keys))
		labels[i] = make([]string, len(keys))
		var short string
		if format != nil {
			short = format(o)
		}
		for j, key := range keys {
			v := key(o)
			rows[i][j] = v
			if format != nil {
				labels[i][j] = short
			} else if v != nil {
				labels[i][j] = fmt.Sprint(v)
			}
		}
	}
	return New(name, len(keys), rows, labels)
}

func (p *Provider) Name() string    { return p.name }
func (p *Provider) FieldCount() int { return p.fieldCount }

// SetValue selects a value for field i. A nil value clears the selection.
func (p *Provider) SetValue(i int, v any) {
	p.values[i] = v
	p.needsValidation = true
}

// Value returns the selection of field i after cascading validation.
func (p *Provider) Value(i int) any {
	p.validate()
	return p.values[i]
}

// SetLabelSearch filters the options of field i to labels having a token
// that starts with s, ignoring case. A blank s disables the filter.
func (p *Provider) SetLabelSearch(i int, s string) {
	p.labelSearch[i] = strings.TrimSpace(s)
	p.needsValidation = true
}

// LabelSearch returns the trimmed search of field i, "" when unset.
func (p *Provider) LabelSearch(i int) string {
	return p.labelSearch[i]
}

// Options returns the value to label map offered for field i, in first
// occurrence order. The map is owned by the provider and is rebuilt on the
// next read after a mutation.
func (p *Provider) Options(i int) *orderedmap.OrderedMap[any, string] {
	p.validate()
	return p.options[i]
}

func (p *Provider) validate() {
	if !p.needsValidation {
		return
	}
	p.needsValidation = false
	for i := range p.options {
		p.options[i] = orderedmap.New[any, string]()
	}

	// Selections form a prefix: everything after the first nil is cleared.
	foundNil := false
	for j := range p.values {
		if foundNil {
			p.values[j] = nil
		} else if p.values[j] == nil {
			foundNil = true
		}
	}

	maxMatching := -1
	for i, row := range p.rows {
		labels := p.labels[i]
		matching := true
		for j := 0; j < p.fieldCount; j++ {
			if matching && matchLabel(labels[j], p.labelSearch[j]) {
				// Set keeps the first insertion position: the last row
				// wins the label while the earliest row fixes the order.
				p.options[j].Set(row[j], labels[j])
			}
			if matching && p.values[j] != nil && equal(p.values[j], row[j]) {
				if j > maxMatching {
					maxMatching = j
				}
			} else {
				matching = false
			}
		}
	}

	for j := maxMatching + 1; j < p.fieldCount; j++ {
		p.values[j] = nil
	}
}

func matchLabel(label, search string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	tokens := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return strings.ContainsRune(NonWordCharacters, r)
	})
	for _, tok := range tokens {
		if strings.HasPrefix(tok, search) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
