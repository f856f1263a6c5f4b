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

// Package ui provides colored terminal output helpers for the CLI.
//
// Color is enabled only when stdout is a terminal; DisableColor turns it
// off explicitly (for --no-color and JSON output modes).
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Shared color printers used across commands.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
	Bold   = color.New(color.Bold)
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// DisableColor turns off all color output for the process.
func DisableColor() {
	color.NoColor = true
}

// Header prints a bold section header with an underline.
func Header(text string) {
	fmt.Println()
	_, _ = Bold.Println(text)
	for range text {
		fmt.Print("=")
	}
	fmt.Println()
}

// SubHeader prints a bold sub-section header.
func SubHeader(text string) {
	_, _ = Bold.Println(text)
}

// Label returns a dimmed label string for aligned key/value output.
func Label(text string) string {
	return Dim.Sprint(text)
}

// CountText formats an integer count with bold styling.
func CountText(n int) string {
	return Bold.Sprintf("%d", n)
}

// DimText returns dimmed text for secondary information.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// Success prints a green checkmark message.
func Success(msg string) {
	_, _ = Green.Printf("✓ %s\n", msg)
}

// Successf prints a green checkmark message with formatting.
func Successf(format string, args ...interface{}) {
	_, _ = Green.Printf("✓ "+format+"\n", args...)
}

// Info prints a cyan informational message.
func Info(msg string) {
	_, _ = Cyan.Println(msg)
}

// Infof prints a cyan informational message with formatting.
func Infof(format string, args ...interface{}) {
	_, _ = Cyan.Printf(format+"\n", args...)
}

// Warningf prints a yellow warning message to stderr.
func Warningf(format string, args ...interface{}) {
	_, _ = Yellow.Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}
