/*
 * Copyright 2024 The httprecorder authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package postparse decodes raw upload-stream bytes into a structured
// POST body. Parsing is heuristic: arbitrary payload lines can look like
// "key: value" headers, so callers must not trust recovered headers
// beyond a known allow-list.
package postparse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/arkivar/httprecorder/pkg/events"
)

// Result is the outcome of parsing one upload stream.
type Result struct {
	// Headers are content-related entries recovered from the stream
	// itself, e.g. per-part Content-Type in a multipart body.
	Headers map[string]string
	// Body is the structured body (map of form fields, decoded JSON) or
	// the raw string when no structure was recognized.
	Body interface{}
}

// Parser turns an upload stream into a structured body. A failed parse
// means "no body available", never a fatal condition.
type Parser interface {
	Parse(contentType string, body *events.RequestBody) (*Result, error)
}

// New returns the default parser.
func New() Parser {
	return &parser{}
}

type parser struct{}

func (p *parser) Parse(contentType string, body *events.RequestBody) (*Result, error) {
	if body == nil || len(body.Raw) == 0 {
		return nil, fmt.Errorf("no upload data")
	}
	if body.Error != "" {
		return nil, fmt.Errorf("upload stream error: %s", body.Error)
	}
	var buf bytes.Buffer
	for _, part := range body.Raw {
		buf.Write(part.Bytes)
	}
	raw := buf.Bytes()

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		return parseURLEncoded(raw, contentType)
	case mediaType == "multipart/form-data":
		return parseMultipart(raw, params["boundary"], contentType)
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return parseJSON(raw, contentType)
	default:
		return rawResult(raw, contentType), nil
	}
}

func parseURLEncoded(raw []byte, contentType string) (*Result, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse urlencoded body: %w", err)
	}
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) == 1 {
			fields[k] = v[0]
		} else {
			fields[k] = v
		}
	}
	return &Result{
		Headers: contentHeaders(contentType, len(raw)),
		Body:    fields,
	}, nil
}

func parseMultipart(raw []byte, boundary, contentType string) (*Result, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart body without boundary")
	}
	mr := multipart.NewReader(bytes.NewReader(raw), boundary)
	fields := make(map[string]interface{})
	headers := contentHeaders(contentType, len(raw))
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse multipart body: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read multipart part: %w", err)
		}
		name := part.FormName()
		if name == "" {
			name = part.FileName()
		}
		fields[name] = string(data)
		if cd := part.Header.Get("Content-Disposition"); cd != "" {
			headers["Content-Disposition"] = cd
		}
		if ct := part.Header.Get("Content-Type"); ct != "" {
			headers["Content-Type"] = ct
		}
	}
	return &Result{Headers: headers, Body: fields}, nil
}

func parseJSON(raw []byte, contentType string) (*Result, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse json body: %w", err)
	}
	return &Result{
		Headers: contentHeaders(contentType, len(raw)),
		Body:    v,
	}, nil
}

func rawResult(raw []byte, contentType string) *Result {
	return &Result{
		Headers: contentHeaders(contentType, len(raw)),
		Body:    string(raw),
	}
}

func contentHeaders(contentType string, size int) map[string]string {
	h := map[string]string{
		"Content-Length": strconv.Itoa(size),
	}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}
