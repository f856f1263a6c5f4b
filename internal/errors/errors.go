// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors provides user-facing error types for the CLI layer.
//
// A UserError carries a short title, a one-line detail, and a concrete
// suggestion, so fatal failures tell the operator what happened and what to
// try next. Pipeline packages return plain wrapped errors; only the cmd
// layer converts them into UserErrors for presentation.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrorType categorizes a UserError for exit reporting.
type ErrorType string

const (
	TypeInput      ErrorType = "input"
	TypeConfig     ErrorType = "config"
	TypeData       ErrorType = "data"
	TypePermission ErrorType = "permission"
	TypeInternal   ErrorType = "internal"
)

// UserError is a presentable error with remediation guidance.
type UserError struct {
	Type       ErrorType `json:"type"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail"`
	Suggestion string    `json:"suggestion"`
	Err        error     `json:"-"`
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

// Unwrap exposes the underlying cause.
func (e *UserError) Unwrap() error {
	return e.Err
}

// NewInputError reports invalid CLI usage or missing user input.
func NewInputError(title, detail, suggestion string) *UserError {
	return &UserError{Type: TypeInput, Title: title, Detail: detail, Suggestion: suggestion}
}

// NewConfigError reports missing or invalid configuration.
func NewConfigError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Type: TypeConfig, Title: title, Detail: detail, Suggestion: suggestion, Err: err}
}

// NewDataError reports corrupt or inconsistent pipeline data.
func NewDataError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Type: TypeData, Title: title, Detail: detail, Suggestion: suggestion, Err: err}
}

// NewPermissionError reports filesystem permission or disk-space failures.
func NewPermissionError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Type: TypePermission, Title: title, Detail: detail, Suggestion: suggestion, Err: err}
}

// NewInternalError reports unexpected failures that should be filed as bugs.
func NewInternalError(title, detail, suggestion string, err error) *UserError {
	return &UserError{Type: TypeInternal, Title: title, Detail: detail, Suggestion: suggestion, Err: err}
}

// FatalError prints the error and exits with status 1.
//
// In JSON mode the error is emitted as a single JSON object on stderr so
// wrapping tools can parse it. Otherwise a human-readable block is printed.
func FatalError(err error, jsonOut bool) {
	var ue *UserError
	if !errors.As(err, &ue) {
		ue = &UserError{Type: TypeInternal, Title: "Unexpected error", Detail: err.Error()}
	}

	if jsonOut {
		payload := map[string]string{
			"error":      ue.Title,
			"type":       string(ue.Type),
			"detail":     ue.Detail,
			"suggestion": ue.Suggestion,
		}
		if ue.Err != nil {
			payload["cause"] = ue.Err.Error()
		}
		enc := json.NewEncoder(os.Stderr)
		_ = enc.Encode(payload)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
		if ue.Detail != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
		}
		if ue.Err != nil {
			fmt.Fprintf(os.Stderr, "  Cause: %v\n", ue.Err)
		}
		if ue.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", ue.Suggestion)
		}
	}
	os.Exit(1)
}
