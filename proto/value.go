// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/buger/jsonparser"

	apierrors "github.com/cubefs/docdb/errors"
)

// Kind enumerates the document value kinds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Member is one key/value pair of an object value. Objects keep their
// members in insertion order and reject duplicate keys on decode.
type Member struct {
	Key   string
	Value *Value
}

// Value is the universal document atom: null, boolean, double, string,
// array, or ordered object.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []*Value
	obj  []Member
}

var nullValue = &Value{kind: KindNull}

func Null() *Value { return nullValue }

func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

func Number(n float64) *Value { return &Value{kind: KindNumber, n: n} }

func String(s string) *Value { return &Value{kind: KindString, s: s} }

func Array(elems ...*Value) *Value { return &Value{kind: KindArray, arr: elems} }

// Object builds an object value from members in the given order.
func Object(members ...Member) *Value { return &Value{kind: KindObject, obj: members} }

func (v *Value) Kind() Kind { return v.kind }

func (v *Value) IsNull() bool   { return v.kind == KindNull }
func (v *Value) IsBool() bool   { return v.kind == KindBool }
func (v *Value) IsNumber() bool { return v.kind == KindNumber }
func (v *Value) IsString() bool { return v.kind == KindString }
func (v *Value) IsArray() bool  { return v.kind == KindArray }
func (v *Value) IsObject() bool { return v.kind == KindObject }

func (v *Value) Bool() bool      { return v.b }
func (v *Value) Number() float64 { return v.n }
func (v *Value) String() string  { return v.s }

func (v *Value) Elems() []*Value { return v.arr }

func (v *Value) Members() []Member { return v.obj }

func (v *Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Field returns the value of an object member by key.
func (v *Value) Field(key string) (*Value, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	for i := range v.obj {
		if v.obj[i].Key == key {
			return v.obj[i].Value, true
		}
	}
	return nil, false
}

// SetField replaces an existing member or appends a new one, keeping
// insertion order.
func (v *Value) SetField(key string, val *Value) {
	for i := range v.obj {
		if v.obj[i].Key == key {
			v.obj[i].Value = val
			return
		}
	}
	v.obj = append(v.obj, Member{Key: key, Value: val})
}

// Equal reports structural equality. Numbers compare by double value,
// objects by ordered member sequence.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for i := range a.obj {
			if a.obj[i].Key != b.obj[i].Key || !Equal(a.obj[i].Value, b.obj[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON renders the compact canonical form, object members in
// insertion order.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.appendJSON(&buf)
	return buf.Bytes(), nil
}

func (v *Value) appendJSON(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(FormatNumber(v.n))
	case KindString:
		appendQuoted(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			e.appendJSON(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i := range v.obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendQuoted(buf, v.obj[i].Key)
			buf.WriteByte(':')
			v.obj[i].Value.appendJSON(buf)
		}
		buf.WriteByte('}')
	}
}

func appendQuoted(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// FormatNumber is the shortest decimal rendering that round-trips the
// double, so two distinct numbers never share a rendering.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// DecodeValue parses one JSON value. Object member order is preserved;
// duplicate keys are rejected.
func DecodeValue(data []byte) (*Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, apierrors.New(apierrors.KindEngine, "empty value")
	}
	switch data[0] {
	case '{':
		return decodeRaw(data, jsonparser.Object)
	case '[':
		return decodeRaw(data, jsonparser.Array)
	case '"':
		if len(data) < 2 || data[len(data)-1] != '"' {
			return nil, apierrors.New(apierrors.KindEngine, "unterminated string")
		}
		return decodeRaw(data[1:len(data)-1], jsonparser.String)
	case 't', 'f':
		return decodeRaw(data, jsonparser.Boolean)
	case 'n':
		return decodeRaw(data, jsonparser.Null)
	default:
		return decodeRaw(data, jsonparser.Number)
	}
}

func decodeRaw(data []byte, vt jsonparser.ValueType) (*Value, error) {
	switch vt {
	case jsonparser.Null:
		return Null(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(data)
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case jsonparser.Number:
		n, err := jsonparser.ParseFloat(data)
		if err != nil {
			return nil, err
		}
		return Number(n), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(data)
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case jsonparser.Array:
		arr := []*Value{}
		var inner error
		_, err := jsonparser.ArrayEach(data, func(elem []byte, et jsonparser.ValueType, _ int, errCb error) {
			if inner != nil {
				return
			}
			if errCb != nil {
				inner = errCb
				return
			}
			v, err := decodeRaw(elem, et)
			if err != nil {
				inner = err
				return
			}
			arr = append(arr, v)
		})
		if err != nil {
			return nil, err
		}
		if inner != nil {
			return nil, inner
		}
		return Array(arr...), nil
	case jsonparser.Object:
		obj := &Value{kind: KindObject}
		seen := make(map[string]struct{})
		err := jsonparser.ObjectEach(data, func(key, elem []byte, et jsonparser.ValueType, _ int) error {
			k, err := jsonparser.ParseString(key)
			if err != nil {
				return err
			}
			if _, ok := seen[k]; ok {
				return apierrors.ErrDuplicateKey
			}
			seen[k] = struct{}{}
			v, err := decodeRaw(elem, et)
			if err != nil {
				return err
			}
			obj.obj = append(obj.obj, Member{Key: k, Value: v})
			return nil
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, apierrors.New(apierrors.KindEngine, "unknown value type")
	}
}
