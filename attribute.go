package fast

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// AttributeType is the value type of an attribute.
type AttributeType int

const (
	AttributeInteger AttributeType = iota
	AttributeFloat
	AttributeBoolean
	AttributeString
	AttributeIntegerList
	AttributeFloatList
)

func (t AttributeType) String() string {
	switch t {
	case AttributeInteger:
		return "integer"
	case AttributeFloat:
		return "float"
	case AttributeBoolean:
		return "boolean"
	case AttributeString:
		return "string"
	case AttributeIntegerList:
		return "integer list"
	case AttributeFloatList:
		return "float list"
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

// Attribute is a typed parameter of a process object.
type Attribute struct {
	ID          string
	Name        string
	Description string
	Type        AttributeType
	Default     interface{}
	Value       interface{}
}

// coerce converts v to the attribute type.
func (t AttributeType) coerce(v interface{}) (interface{}, error) {
	switch t {
	case AttributeInteger:
		return cast.ToIntE(v)
	case AttributeFloat:
		return cast.ToFloat64E(v)
	case AttributeBoolean:
		return cast.ToBoolE(v)
	case AttributeString:
		return cast.ToStringE(v)
	case AttributeIntegerList:
		return cast.ToIntSliceE(fields(v))
	case AttributeFloatList:
		return cast.ToFloat64SliceE(fields(v))
	}
	return nil, fmt.Errorf("unknown attribute type %v", t)
}

// fields splits space or comma separated list values.
func fields(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
}

func (p *ProcessObject) createAttribute(t AttributeType, id, name, description string, def interface{}) {
	value, err := t.coerce(def)
	if err != nil {
		panic(fmt.Sprintf("invalid default of %s attribute %s: %v", t, id, err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.attributes[id]; !ok {
		p.order = append(p.order, id)
	}
	p.attributes[id] = &Attribute{
		ID:          id,
		Name:        name,
		Description: description,
		Type:        t,
		Default:     value,
		Value:       value,
	}
}

// CreateIntegerAttribute declares an integer attribute.
func (p *ProcessObject) CreateIntegerAttribute(id, name, description string, def int) {
	p.createAttribute(AttributeInteger, id, name, description, def)
}

// CreateFloatAttribute declares a float attribute.
func (p *ProcessObject) CreateFloatAttribute(id, name, description string, def float64) {
	p.createAttribute(AttributeFloat, id, name, description, def)
}

// CreateBooleanAttribute declares a boolean attribute.
func (p *ProcessObject) CreateBooleanAttribute(id, name, description string, def bool) {
	p.createAttribute(AttributeBoolean, id, name, description, def)
}

// CreateStringAttribute declares a string attribute.
func (p *ProcessObject) CreateStringAttribute(id, name, description string, def string) {
	p.createAttribute(AttributeString, id, name, description, def)
}

// CreateIntegerListAttribute declares an integer list attribute.
func (p *ProcessObject) CreateIntegerListAttribute(id, name, description string, def []int) {
	p.createAttribute(AttributeIntegerList, id, name, description, def)
}

// CreateFloatListAttribute declares a float list attribute.
func (p *ProcessObject) CreateFloatListAttribute(id, name, description string, def []float64) {
	p.createAttribute(AttributeFloatList, id, name, description, def)
}

// SetAttribute coerces the value to the attribute type and lets the
// executable load it. A changed value marks the node modified. If the
// executable rejects the value, the previous one is restored.
func (p *ProcessObject) SetAttribute(id string, value interface{}) error {
	return p.SetAttributes(map[string]interface{}{id: value})
}

// SetAttributes sets a batch of attributes and lets the executable load
// them. The batch is applied as a whole or not at all.
func (p *ProcessObject) SetAttributes(values map[string]interface{}) error {
	p.mu.Lock()
	modified := p.modified
	previous := make(map[string]interface{}, len(values))
	var errs execErrors
	for id, value := range values {
		prev, err := p.setAttribute(id, value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		previous[id] = prev
	}
	if err := errs.ret(); err != nil {
		p.restore(previous, modified)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	l, ok := p.impl.(AttributeLoader)
	if !ok {
		return nil
	}
	if err := l.LoadAttributes(); err != nil {
		p.mu.Lock()
		p.restore(previous, modified)
		p.mu.Unlock()
		return err
	}
	return nil
}

// setAttribute stores the coerced value and returns the previous one.
// Node lock must be held.
func (p *ProcessObject) setAttribute(id string, value interface{}) (interface{}, error) {
	a, ok := p.attributes[id]
	if !ok {
		return nil, Configurationf(p.name, "unknown attribute %q", id)
	}
	v, err := a.Type.coerce(value)
	if err != nil {
		return nil, Configurationf(p.name, "attribute %q expects %v: %v", id, a.Type, err)
	}
	prev := a.Value
	if !reflect.DeepEqual(prev, v) {
		a.Value = v
		p.modified = true
	}
	return prev, nil
}

// restore puts back previous attribute values. Node lock must be held.
func (p *ProcessObject) restore(previous map[string]interface{}, modified bool) {
	for id, v := range previous {
		p.attributes[id].Value = v
	}
	p.modified = modified
}

// Attributes returns copies of the declared attributes in declaration
// order.
func (p *ProcessObject) Attributes() []Attribute {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs := make([]Attribute, 0, len(p.order))
	for _, id := range p.order {
		attrs = append(attrs, *p.attributes[id])
	}
	return attrs
}

func (p *ProcessObject) attribute(id string, t AttributeType) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.attributes[id]
	if !ok {
		return nil, Configurationf(p.name, "unknown attribute %q", id)
	}
	if a.Type != t {
		return nil, Configurationf(p.name, "attribute %q is %v, not %v", id, a.Type, t)
	}
	return a.Value, nil
}

// IntegerAttribute returns the value of an integer attribute.
func (p *ProcessObject) IntegerAttribute(id string) (int, error) {
	v, err := p.attribute(id, AttributeInteger)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// FloatAttribute returns the value of a float attribute.
func (p *ProcessObject) FloatAttribute(id string) (float64, error) {
	v, err := p.attribute(id, AttributeFloat)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// BooleanAttribute returns the value of a boolean attribute.
func (p *ProcessObject) BooleanAttribute(id string) (bool, error) {
	v, err := p.attribute(id, AttributeBoolean)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// StringAttribute returns the value of a string attribute.
func (p *ProcessObject) StringAttribute(id string) (string, error) {
	v, err := p.attribute(id, AttributeString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IntegerListAttribute returns the value of an integer list attribute.
func (p *ProcessObject) IntegerListAttribute(id string) ([]int, error) {
	v, err := p.attribute(id, AttributeIntegerList)
	if err != nil {
		return nil, err
	}
	return append([]int(nil), v.([]int)...), nil
}

// FloatListAttribute returns the value of a float list attribute.
func (p *ProcessObject) FloatListAttribute(id string) ([]float64, error) {
	v, err := p.attribute(id, AttributeFloatList)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), v.([]float64)...), nil
}
