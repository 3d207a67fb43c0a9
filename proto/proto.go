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

// Package proto holds the document value model and the line-framed
// wire protocol. One frame is one JSON object terminated by a newline.
package proto

import (
	"bytes"
	"encoding/json"

	apierrors "github.com/cubefs/docdb/errors"
)

const (
	OpInsert      = "insert"
	OpFind        = "find"
	OpDelete      = "delete"
	OpCreateIndex = "create_index"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Document is an object value carrying the reserved _id field once the
// engine has stored it.
type Document = Value

const IDField = "_id"

// Request is one client frame.
type Request struct {
	Database  string
	Operation string
	Data      []*Value
	Query     *Value
	Field     string
}

// DecodeRequest parses a single frame. Presence of database and
// operation is enforced here; per-operation shape checks belong to
// dispatch.
func DecodeRequest(line []byte) (*Request, error) {
	v, err := DecodeValue(line)
	if err != nil {
		return nil, err
	}
	if !v.IsObject() {
		return nil, apierrors.ErrInvalidRequest
	}

	req := &Request{}
	db, ok := v.Field("database")
	if !ok || !db.IsString() {
		return nil, apierrors.ErrInvalidRequest
	}
	req.Database = db.String()

	op, ok := v.Field("operation")
	if !ok || !op.IsString() {
		return nil, apierrors.ErrInvalidRequest
	}
	req.Operation = op.String()

	if data, ok := v.Field("data"); ok {
		if !data.IsArray() {
			return nil, apierrors.ErrMissingData
		}
		req.Data = data.Elems()
	}
	if q, ok := v.Field("query"); ok {
		req.Query = q
	}
	if f, ok := v.Field("field"); ok && f.IsString() {
		req.Field = f.String()
	}
	return req, nil
}

// EncodeRequest renders a request frame, newline included.
func EncodeRequest(req *Request) ([]byte, error) {
	obj := Object(
		Member{Key: "database", Value: String(req.Database)},
		Member{Key: "operation", Value: String(req.Operation)},
	)
	if req.Data != nil {
		obj.SetField("data", Array(req.Data...))
	}
	if req.Query != nil {
		obj.SetField("query", req.Query)
	}
	if req.Field != "" {
		obj.SetField("field", String(req.Field))
	}
	b, err := obj.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Response is one server frame. Data carries hex identifiers for
// insert and documents for find; it is absent otherwise.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

func SuccessResponse(message string, data interface{}, count int) *Response {
	return &Response{Status: StatusSuccess, Message: message, Data: data, Count: &count}
}

func ErrorResponse(err error) *Response {
	return &Response{Status: StatusError, Message: err.Error()}
}

// EncodeResponse renders a response frame, newline included.
func EncodeResponse(resp *Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodedResponse is the client-side view of a response frame.
type DecodedResponse struct {
	Status  string
	Message string
	Data    []*Value
	Count   int
}

func (r *DecodedResponse) OK() bool { return r.Status == StatusSuccess }

// IDs projects the data array as identifier strings (insert replies).
func (r *DecodedResponse) IDs() []string {
	ids := make([]string, 0, len(r.Data))
	for _, v := range r.Data {
		if v.IsString() {
			ids = append(ids, v.String())
		}
	}
	return ids
}

// DecodeResponse parses a response frame on the client side.
func DecodeResponse(line []byte) (*DecodedResponse, error) {
	v, err := DecodeValue(bytes.TrimSpace(line))
	if err != nil {
		return nil, err
	}
	if !v.IsObject() {
		return nil, apierrors.New(apierrors.KindEngine, "malformed response frame")
	}
	resp := &DecodedResponse{}
	if s, ok := v.Field("status"); ok && s.IsString() {
		resp.Status = s.String()
	}
	if m, ok := v.Field("message"); ok && m.IsString() {
		resp.Message = m.String()
	}
	if d, ok := v.Field("data"); ok && d.IsArray() {
		resp.Data = d.Elems()
	}
	if c, ok := v.Field("count"); ok && c.IsNumber() {
		resp.Count = int(c.Number())
	}
	return resp, nil
}
