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

package postparse

import (
	"reflect"
	"testing"

	"github.com/arkivar/httprecorder/pkg/events"
)

func body(fragments ...string) *events.RequestBody {
	b := &events.RequestBody{}
	for _, f := range fragments {
		b.Raw = append(b.Raw, events.UploadData{Bytes: []byte(f)})
	}
	return b
}

func TestParser_Parse(t *testing.T) {
	p := New()

	tests := []struct {
		name        string
		contentType string
		body        *events.RequestBody
		wantBody    interface{}
		wantErr     bool
	}{
		{
			"urlencoded single values flatten",
			"application/x-www-form-urlencoded",
			body("username=alice&token=s3cret"),
			map[string]interface{}{"username": "alice", "token": "s3cret"},
			false,
		},
		{
			"urlencoded repeated key keeps all values",
			"application/x-www-form-urlencoded",
			body("tag=a&tag=b"),
			map[string]interface{}{"tag": []string{"a", "b"}},
			false,
		},
		{
			"urlencoded fragments concatenated",
			"application/x-www-form-urlencoded",
			body("user", "name=alice"),
			map[string]interface{}{"username": "alice"},
			false,
		},
		{
			"json object decoded",
			"application/json",
			body(`{"a":1,"b":"x"}`),
			map[string]interface{}{"a": float64(1), "b": "x"},
			false,
		},
		{
			"json suffix media type decoded",
			"application/vnd.api+json",
			body(`[1,2]`),
			[]interface{}{float64(1), float64(2)},
			false,
		},
		{
			"unknown media type kept raw",
			"text/plain",
			body("just text"),
			"just text",
			false,
		},
		{
			"empty upload stream is an error",
			"application/x-www-form-urlencoded",
			&events.RequestBody{},
			nil,
			true,
		},
		{
			"broken upload stream is an error",
			"application/x-www-form-urlencoded",
			&events.RequestBody{Raw: []events.UploadData{{Bytes: []byte("a=b")}}, Error: "stream truncated"},
			nil,
			true,
		},
		{
			"invalid json is an error",
			"application/json",
			body("{not json"),
			nil,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.contentType, tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got.Body, tt.wantBody) {
				t.Errorf("Parse() body = %v, want %v", got.Body, tt.wantBody)
			}
		})
	}
}

func TestParser_ParseMultipart(t *testing.T) {
	p := New()
	payload := "--xyz\r\n" +
		"Content-Disposition: form-data; name=\"field1\"\r\n" +
		"\r\n" +
		"value1\r\n" +
		"--xyz\r\n" +
		"Content-Disposition: form-data; name=\"file1\"; filename=\"a.txt\"\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"file contents\r\n" +
		"--xyz--\r\n"

	got, err := p.Parse("multipart/form-data; boundary=xyz", body(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wantBody := map[string]interface{}{
		"field1": "value1",
		"file1":  "file contents",
	}
	if !reflect.DeepEqual(got.Body, wantBody) {
		t.Errorf("Parse() body = %v, want %v", got.Body, wantBody)
	}
	if got.Headers["Content-Type"] != "text/plain" {
		t.Errorf("recovered Content-Type = %q, want %q", got.Headers["Content-Type"], "text/plain")
	}
	if got.Headers["Content-Disposition"] == "" {
		t.Error("recovered Content-Disposition is empty")
	}
}

func TestParser_ParseMultipartWithoutBoundary(t *testing.T) {
	p := New()
	if _, err := p.Parse("multipart/form-data", body("--xyz--")); err == nil {
		t.Error("Parse() error = nil, want error")
	}
}

func TestParser_ContentHeaders(t *testing.T) {
	p := New()
	got, err := p.Parse("text/plain", body("hello"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Headers["Content-Length"] != "5" {
		t.Errorf("Content-Length = %q, want %q", got.Headers["Content-Length"], "5")
	}
	if got.Headers["Content-Type"] != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", got.Headers["Content-Type"], "text/plain")
	}
}
