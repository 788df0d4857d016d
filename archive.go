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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

var archiveMagic = [8]byte{'S', 'C', 'O', 'P', 'E', 'A', 'R', 'C'}

type archiveHeader struct {
	Magic  [8]byte
	Active uint32
}

// Archive writes every slot, its path and the active slot index as a single
// zstd-compressed bundle.
func (m *SlotManager) Archive(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("error creating compressor: %w", err)
	}

	writer := bufio.NewWriter(enc)
	if err := binary.Write(writer, binary.LittleEndian, archiveHeader{Magic: archiveMagic, Active: uint32(m.current)}); err != nil {
		_ = enc.Close()
		return err
	}

	for i := range m.slots {
		cfg, _ := m.Slot(i)
		path := []byte(m.paths[i])
		if err := binary.Write(writer, binary.LittleEndian, uint16(len(path))); err != nil {
			_ = enc.Close()
			return err
		}
		if _, err := writer.Write(path); err != nil {
			_ = enc.Close()
			return err
		}
		if err := EncodeConfig(writer, cfg); err != nil {
			_ = enc.Close()
			return fmt.Errorf("error encoding slot %d: %w", i, err)
		}
	}

	if err := writer.Flush(); err != nil {
		_ = enc.Close()
		return err
	}

	return enc.Close()
}

// RestoreArchive replaces every slot from a bundle written by Archive and
// applies the active slot. Nothing is changed when the bundle is unreadable.
func (m *SlotManager) RestoreArchive(r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("error creating decompressor: %w", err)
	}
	defer dec.Close()

	reader := bufio.NewReader(dec)

	var hdr archiveHeader
	if err := binary.Read(reader, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("error reading archive header: %w: %w", ErrCorruptSlot, err)
	}
	if hdr.Magic != archiveMagic || hdr.Active >= SlotCount {
		return fmt.Errorf("unrecognised archive header: %w", ErrCorruptSlot)
	}

	var (
		slots [SlotCount]Config
		paths [SlotCount]string
	)
	for i := range slots {
		var n uint16
		if err := binary.Read(reader, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("error reading slot %d path: %w: %w", i, ErrCorruptSlot, err)
		}
		path := make([]byte, n)
		if _, err := io.ReadFull(reader, path); err != nil {
			return fmt.Errorf("error reading slot %d path: %w: %w", i, ErrCorruptSlot, err)
		}
		paths[i] = string(path)

		if slots[i], err = DecodeConfig(reader); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
	}

	m.slots = slots
	m.paths = paths
	m.current = int(hdr.Active)

	return m.ctrl.Load(m.slots[m.current])
}
