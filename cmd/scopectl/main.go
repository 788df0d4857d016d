// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command scopectl inspects and maintains oscilloscope slot files, slot
// archives, calibration files and capture recordings without a device.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/OpenPSG/scope"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Firmware reported by the offline device.
const offlineFirmware = "1.0.0"

var (
	configDir    string
	hardwareFlag int
	exportFrames int
)

var logger = log.New(os.Stderr, "scopectl: ", log.LstdFlags)

var rootCmd = &cobra.Command{
	Use:           "scopectl",
	Short:         "Maintain oscilloscope configuration slots and recordings",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Inspect and create slot files",
}

var slotShowCmd = &cobra.Command{
	Use:   "show [file.slot]",
	Short: "Print a slot file as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		cfg, err := scope.DecodeConfig(f)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", scope.SlotName(0, args[0]))
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

var slotDefaultCmd = &cobra.Command{
	Use:   "default [file.slot]",
	Short: "Write a factory default slot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := scope.Compatibility(hardwareFlag)
		if v != scope.Version1 && v != scope.Version2 {
			return fmt.Errorf("hardware version %d: %w", hardwareFlag, scope.ErrInvalidArgument)
		}

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := scope.EncodeConfig(f, scope.DefaultConfig(v)); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive [out.zst]",
	Short: "Bundle the four slots of the data directory into a compressed archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, slots, err := openSlots()
		if err != nil {
			return err
		}
		logger.Printf("archiving slots from %s", settings.DataDir)

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := slots.Archive(f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [in.zst]",
	Short: "Restore the four slots of the data directory from an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, slots, err := openSlots()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if err := slots.RestoreArchive(f); err != nil {
			return err
		}
		return slots.Close(settings.DataDir)
	},
}

var recordingCmd = &cobra.Command{
	Use:   "recording",
	Short: "Inspect capture recordings",
}

var recordingShowCmd = &cobra.Command{
	Use:   "show [file.edf]",
	Short: "Print the header of a capture recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rr, err := scope.OpenRecording(f)
		if err != nil {
			return err
		}

		hdr := rr.Header()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Device:   %s\n", hdr.Device)
		fmt.Fprintf(out, "ID:       %s\n", hdr.ID)
		fmt.Fprintf(out, "Start:    %s\n", hdr.StartTime.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "Frame:    %s\n", scope.FormatUnit(hdr.FrameDuration.Seconds(), "s"))
		fmt.Fprintf(out, "Frames:   %d\n", hdr.Frames)
		for _, s := range hdr.Signals {
			fmt.Fprintf(out, "Signal:   %-10s %d samples [%g, %g] %s\n", s.Label, s.SamplesPerFrame, s.PhysicalMin, s.PhysicalMax, s.Dimension)
		}
		return nil
	},
}

var recordingExportCmd = &cobra.Command{
	Use:   "export [file.edf]",
	Short: "Render the frames of a capture recording as text, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := scope.LoadSettings(configDir)
		if err != nil {
			return err
		}
		frames := exportFrames
		if frames <= 0 {
			frames = settings.HistoryFrames
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rr, err := scope.OpenRecording(f)
		if err != nil {
			return err
		}

		history, err := scope.NewHistory(frames)
		if err != nil {
			return err
		}
		for {
			rf, err := rr.ReadFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			history.Push(rf.Frame)
		}

		// Recover the ranges the recording was made with.
		hdr := rr.Header()
		cfg := scope.DefaultConfig(scope.Version1)
		cfg.Horizontal.Capture = hdr.FrameDuration.Seconds() / 10
		for ch := 0; ch < scope.ChannelCount; ch++ {
			cfg.Channels[ch].Capture = hdr.Signals[ch].PhysicalMax / 5
		}

		return scope.NewExporter(history, nil).WriteHistory(cmd.OutOrStdout(), cfg, frames)
	},
}

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Manage calibration files",
}

var calibrationDefaultCmd = &cobra.Command{
	Use:   "default [file.yaml]",
	Short: "Write the nominal calibration as a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scope.SaveCalibrationFile(args[0], scope.DefaultCalibration())
	},
}

// openSlots loads the settings and the slots of the data directory against
// an offline device.
func openSlots() (scope.Settings, *scope.SlotManager, error) {
	settings, err := scope.LoadSettings(configDir)
	if err != nil {
		return scope.Settings{}, nil, err
	}

	link := scope.NewSimulatedLink(offlineFirmware)
	v, err := settings.Compatibility(link)
	if err != nil {
		return scope.Settings{}, nil, err
	}

	data, err := settings.LoadCalibration(link)
	if err != nil {
		logger.Printf("calibration: %v, using nominal values", err)
	}

	ctrl, err := scope.NewController(link, scope.NewCalibration(data), v,
		scope.WithLogger(logger), scope.WithMaxFFTSize(settings.MaxFFTSize))
	if err != nil {
		return scope.Settings{}, nil, err
	}

	slots := scope.NewSlotManager(ctrl)
	if err := slots.Open(settings.DataDir); err != nil {
		return scope.Settings{}, nil, err
	}

	return settings, slots, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory holding scope.yaml")
	slotDefaultCmd.Flags().IntVar(&hardwareFlag, "hardware", int(scope.Version1), "hardware version (1 or 2)")
	recordingExportCmd.Flags().IntVarP(&exportFrames, "frames", "n", 0, "number of frames to export (default from settings)")

	slotCmd.AddCommand(slotShowCmd, slotDefaultCmd)
	recordingCmd.AddCommand(recordingShowCmd, recordingExportCmd)
	calibrationCmd.AddCommand(calibrationDefaultCmd)
	rootCmd.AddCommand(slotCmd, archiveCmd, restoreCmd, recordingCmd, calibrationCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
