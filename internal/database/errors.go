// Copyright 2019 Google Inc.
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

package database

import "fmt"

// NotFoundError is returned when a read handle is opened on a container
// file that does not exist.
type NotFoundError struct {
	Filename string
	Err      error
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("container %s does not exist: %v", err.Filename, err.Err)
}

func (err *NotFoundError) Unwrap() error {
	return err.Err
}

// NotOpenError is returned by any operation issued against a handle whose
// container file is not open.
type NotOpenError struct {
	Filename string
	Op       string
}

func (err *NotOpenError) Error() string {
	return fmt.Sprintf("%s: container %s is not open", err.Op, err.Filename)
}
