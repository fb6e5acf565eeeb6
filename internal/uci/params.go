package uci

import "fmt"

// Param is a single Tag/Length/Value application-configuration parameter,
// as pushed via SESSION_SET_APP_CONFIG or read back from a notification.
// Tag and length are preserved bit-exact from whatever built the Params
// set into the wire bytes; this codec does not interpret tag semantics.
type Param struct {
	Tag   uint8
	Value []byte
}

// Params is an ordered builder for a set of app-config TLV parameters.
// Order is preserved on the wire exactly as Add calls occur.
type Params struct {
	list []Param
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{}
}

// Add appends a parameter, tag then raw value bytes.
func (p *Params) Add(tag uint8, value []byte) *Params {
	p.list = append(p.list, Param{Tag: tag, Value: append([]byte(nil), value...)})
	return p
}

// AddByte appends a single-byte parameter.
func (p *Params) AddByte(tag uint8, value byte) *Params {
	return p.Add(tag, []byte{value})
}

// Len reports the number of parameters in the set.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.list)
}

// List returns the parameters in wire order.
func (p *Params) List() []Param {
	if p == nil {
		return nil
	}
	return append([]Param(nil), p.list...)
}

// Marshal encodes the parameter set as `count | (tag len value)...`, the
// shape SESSION_SET_APP_CONFIG_CMD and its notification counterparts use.
func (p *Params) Marshal() []byte {
	out := []byte{byte(p.Len())}
	for _, param := range p.list {
		out = append(out, param.Tag, byte(len(param.Value)))
		out = append(out, param.Value...)
	}
	return out
}

// ParseParams decodes a `count | (tag len value)...` parameter set.
func ParseParams(raw []byte) (*Params, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("uci: params: %w", ErrShortPacket)
	}
	count := int(raw[0])
	p := NewParams()
	offset := 1
	for i := 0; i < count; i++ {
		if offset+2 > len(raw) {
			return nil, fmt.Errorf("uci: params: entry %d: %w", i, ErrShortPacket)
		}
		tag := raw[offset]
		length := int(raw[offset+1])
		offset += 2
		if offset+length > len(raw) {
			return nil, fmt.Errorf("uci: params: entry %d value: %w", i, ErrShortPacket)
		}
		p.Add(tag, raw[offset:offset+length])
		offset += length
	}
	return p, nil
}

// Get returns the first parameter matching tag, if present.
func (p *Params) Get(tag uint8) ([]byte, bool) {
	if p == nil {
		return nil, false
	}
	for _, param := range p.list {
		if param.Tag == tag {
			return param.Value, true
		}
	}
	return nil, false
}
