// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders enact results for a terminal or for scripts.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the pre-configured styles of one printer.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
	Header  lipgloss.Style
	Border  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Label:   r.NewStyle().Foreground(ColorTealPrimary),
		Value:   r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(ColorSlate),
		Success: r.NewStyle().Foreground(ColorSuccess),
		Warning: r.NewStyle().Foreground(ColorWarning),
		Error:   r.NewStyle().Foreground(ColorError),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
		Header: r.NewStyle().Bold(true).Foreground(ColorTealBright).Padding(0, 1),
		Border: r.NewStyle().Foreground(ColorTealDeep),
	}
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Printer writes styled output to one writer.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w        io.Writer
	mode     Mode
	renderer *lipgloss.Renderer
	styles   Styles
}

// NewPrinter returns a printer for w. ModePlain and ModeJSON never emit
// escape sequences.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	r := lipgloss.NewRenderer(w)
	if mode != ModeRich {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Printer{w: w, mode: mode, renderer: r, styles: newStyles(r)}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles { return p.styles }

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.styles.Success.Render(string(i))
	case IconWarning:
		return p.styles.Warning.Render(string(i))
	case IconError:
		return p.styles.Error.Render(string(i))
	}
	return string(i)
}

// Success prints a status line. JSON mode prints nothing.
func (p *Printer) Success(format string, args ...any) {
	p.status(IconSuccess, "OK", format, args...)
}

// Warning prints a warning line.
func (p *Printer) Warning(format string, args ...any) {
	p.status(IconWarning, "WARN", format, args...)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.status(IconError, "ERROR", format, args...)
}

func (p *Printer) status(i Icon, word, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch p.mode {
	case ModeJSON:
		return
	case ModePlain:
		fmt.Fprintf(p.w, "%s: %s\n", word, msg)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.icon(i), msg)
	}
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Field is one label/value line of a report box.
type Field struct {
	Label string
	Value string
}

// Table is a headed grid of cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Report is a titled box of fields followed by optional tables.
type Report struct {
	Title  string
	Fields []Field
	Tables []Table
}

// Report writes rep, or raw as JSON in JSON mode.
func (p *Printer) Report(rep Report, raw any) error {
	if p.mode == ModeJSON {
		return p.JSON(raw)
	}
	fmt.Fprintln(p.w, p.RenderReport(rep))
	return nil
}

// RenderReport lays out rep without writing it.
func (p *Printer) RenderReport(rep Report) string {
	width := 0
	for _, f := range rep.Fields {
		width = max(width, len(f.Label))
	}
	lines := make([]string, 0, len(rep.Fields)+1)
	lines = append(lines, p.styles.Title.Render(rep.Title))
	for _, f := range rep.Fields {
		label := p.styles.Label.Render(f.Label + strings.Repeat(" ", width-len(f.Label)))
		lines = append(lines, label+"  "+p.styles.Value.Render(f.Value))
	}
	parts := []string{p.styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))}
	for _, t := range rep.Tables {
		parts = append(parts, p.RenderTable(t))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// RenderTable lays out t.
func (p *Printer) RenderTable(t Table) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.styles.Border).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.Header
			}
			return p.renderer.NewStyle().Padding(0, 1)
		})
	if t.Title == "" {
		return tbl.Render()
	}
	return p.styles.Muted.Render(t.Title) + "\n" + tbl.Render()
}

// Bar renders a fraction in [0, 1] as a fixed-width bar.
func (p *Printer) Bar(frac float64, width int) string {
	frac = min(max(frac, 0), 1)
	filled := int(frac*float64(width) + 0.5)
	return p.styles.Success.Render(strings.Repeat("█", filled)) +
		p.styles.Muted.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %3.0f%%", frac*100)
}
