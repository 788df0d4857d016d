// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package scope

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const exportCellWidth = 8

const (
	currentTitle = "Oscilloscope Current Frame Data"
	historyTitle = "Oscilloscope History Frame Data"
)

// Exporter renders capture frames as fixed-width text.
type Exporter struct {
	buf     CaptureBuffer
	metrics *Metrics
}

// NewExporter creates an exporter over a capture buffer. m may be nil.
func NewExporter(buf CaptureBuffer, m *Metrics) *Exporter {
	return &Exporter{buf: buf, metrics: m}
}

// WriteCurrent renders the live frame.
func (e *Exporter) WriteCurrent(w io.Writer, cfg Config) error {
	e.buf.RLock()
	defer e.buf.RUnlock()

	f, err := e.buf.Current()
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(writer, currentTitle); err != nil {
		return err
	}
	if err := writeFrame(writer, cfg, f); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	e.metrics.export("current")
	return nil
}

// WriteHistory renders up to count history frames, most recent first. Each
// frame is preceded by its index in the export.
func (e *Exporter) WriteHistory(w io.Writer, cfg Config, count int) error {
	if count <= 0 {
		return fmt.Errorf("history window %d: %w", count, ErrInvalidArgument)
	}

	e.buf.RLock()
	defer e.buf.RUnlock()

	writer := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(writer, historyTitle); err != nil {
		return err
	}
	n := min(count, e.buf.FrameCount())
	for i := 0; i < n; i++ {
		f, err := e.buf.Frame(i)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(writer, "Frame : %d\n", i); err != nil {
			return err
		}
		if err := writeFrame(writer, cfg, f); err != nil {
			return err
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	e.metrics.export("history")
	return nil
}

func writeFrame(w *bufio.Writer, cfg Config, f Frame) error {
	if _, err := fmt.Fprintf(w, "Date-Time-Offset: %s %+f\n", f.Time.Format("2006-01-02 15:04:05.000"), f.Offset); err != nil {
		return err
	}

	for ch, samples := range f.Analog {
		if len(samples) == 0 {
			continue
		}

		_, err := fmt.Fprintf(w, "Channel %d\nTime/Div: %f ms\nVolt/Div: %f V\nValues[%d,%d] : |",
			ch+1, cfg.Horizontal.Capture*1000, cfg.Channels[ch].Capture, -MaxSampleValue, MaxSampleValue)
		if err != nil {
			return err
		}
		for _, s := range samples {
			if _, err := w.WriteString(cell(fmt.Sprintf("%+06d", s))); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}

	if len(f.Digital) > 0 {
		if _, err := w.WriteString("Digital\nValues : |"); err != nil {
			return err
		}
		for _, s := range f.Digital {
			if _, err := w.WriteString(cell(fmt.Sprintf("0x%04x", s))); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}

	return nil
}

// cell centres s in a column and closes it with a separator.
func cell(s string) string {
	pad := max(0, exportCellWidth-len(s))
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left) + "|"
}
