// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package binary

import (
	"bytes"
	"testing"
)

func TestExpectBytes(t *testing.T) {
	testCases := []struct {
		want  []byte
		input []byte
		match bool
	}{
		{[]byte("BRT\x01"), []byte("BRT\x01"), true},
		{[]byte("BRT\x01"), []byte("BRT\x01EXTRA"), true},
		{[]byte("BRT\x01"), []byte("BRT\x02"), false},
		{[]byte("BRT\x01"), []byte("BRT"), false},
		{[]byte("BRT\x01"), []byte(""), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.input), func(t *testing.T) {
			err := ExpectBytes(bytes.NewReader(tc.input), tc.want)
			if err != nil && tc.match {
				t.Fatalf("ExpectBytes returned unexpected error: %v", err)
			} else if err == nil && !tc.match {
				t.Fatalf("ExpectBytes accepted mismatched input %v", tc.match)
			}
		})
	}
}

func TestFixedString(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		width int
	}{
		{"exact", "chr1", 4},
		{"padded", "chrX", 10},
		{"empty", "", 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFixedString(&buf, tc.value, tc.width); err != nil {
				t.Fatalf("WriteFixedString() returned error: %v", err)
			}
			if got, want := buf.Len(), tc.width; got != want {
				t.Fatalf("Wrong encoded length: got %d, want %d", got, want)
			}
			got, err := ReadFixedString(&buf, tc.width)
			if err != nil {
				t.Fatalf("ReadFixedString() returned error: %v", err)
			}
			if got != tc.value {
				t.Errorf("Wrong value: got %q, want %q", got, tc.value)
			}
		})
	}
}

func TestWriteFixedString_TooLong(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFixedString(&buf, "chr10", 4); err == nil {
		t.Fatal("WriteFixedString() accepted a string wider than the column")
	}
}

func TestReadString_Truncated(t *testing.T) {
	if _, err := ReadString(bytes.NewReader([]byte{5, 0, 'a', 'b'})); err == nil {
		t.Fatal("ReadString() accepted truncated data")
	}
}
