/*
Copyright 2026 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import "errors"

var (
	// ErrTransactionAborted is returned by operations on a
	// transaction whose write batch failed or was rolled back.
	ErrTransactionAborted = errors.New("storage: transaction aborted")

	// ErrConfig is wrapped by missing or malformed configuration
	// errors.
	ErrConfig = errors.New("storage: configuration error")

	// ErrVersionMismatch refuses opening a storage written by an
	// incompatible major version.
	ErrVersionMismatch = errors.New("storage: incompatible storage version")

	// ErrByteOrderMismatch refuses opening a storage written with a
	// different byte order mark.
	ErrByteOrderMismatch = errors.New("storage: byte order mark mismatch")

	// ErrForwardUnpositioned is returned by Fetch on a forward
	// iterator that is not positioned on a token.
	ErrForwardUnpositioned = errors.New("storage: forward iterator not positioned")

	// ErrUnknownTerm is returned when a term type or value is not
	// defined in the storage.
	ErrUnknownTerm = errors.New("storage: unknown term")
)
