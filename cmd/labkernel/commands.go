package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/microscope"
)

var (
	scanCenter string
	scanWidth  float64
	scanHeight float64
	scanNX     int
	scanNY     int

	optimizeStart string

	correlateAt string

	cellWidth  float64
	cellHeight float64
	cellNX     int
	cellNY     int

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Raster-scan the sample and report the count rate per point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			center, err := parsePosition(scanCenter)
			if err != nil {
				return err
			}
			points, err := microscope.Raster(center, scanWidth, scanHeight, scanNX, scanNY)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), procedure{
				name:   "scan",
				start:  func(m *microscope.Microscope) error { return m.StartScan(points) },
				result: func(m *microscope.Microscope) any { return m.ScanResults() },
			})
		},
	}

	optimizeCmd = &cobra.Command{
		Use:   "optimize",
		Short: "Maximize the count rate starting from a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parsePosition(optimizeStart)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), procedure{
				name:  "optimize",
				start: func(m *microscope.Microscope) error { return m.StartOptimization(start) },
				result: func(m *microscope.Microscope) any {
					res, _ := m.Optimization()
					return res
				},
			})
		},
	}

	characterizeCmd = &cobra.Command{
		Use:   "characterize x,y,z [x,y,z...]",
		Short: "Optimize the count rate at each emitter and measure its photon correlation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emitters, err := parsePositions(args)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), procedure{
				name:   "characterize",
				start:  func(m *microscope.Microscope) error { return m.StartCharacterization(emitters) },
				result: func(m *microscope.Microscope) any { return m.Emitters() },
			})
		},
	}

	correlateCmd = &cobra.Command{
		Use:   "correlate",
		Short: "Measure the photon-correlation histogram at a position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at, err := parsePosition(correlateAt)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), procedure{
				name:  "correlate",
				start: func(m *microscope.Microscope) error { return m.StartCorrelation(at) },
				result: func(m *microscope.Microscope) any {
					res, _ := m.Correlation()
					return res
				},
			})
		},
	}

	sampleCmd = &cobra.Command{
		Use:   "sample x,y,z [x,y,z...]",
		Short: "Scan each cell, find its emitters and characterize them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			centers, err := parsePositions(args)
			if err != nil {
				return err
			}
			cells := make([]microscope.Region, len(centers))
			for i, c := range centers {
				cells[i] = microscope.Region{Center: c, Width: cellWidth, Height: cellHeight, NX: cellNX, NY: cellNY}
			}
			return execute(cmd.Context(), procedure{
				name:   "sample",
				start:  func(m *microscope.Microscope) error { return m.StartSampleCharacterization(cells) },
				result: func(m *microscope.Microscope) any { return m.Emitters() },
			})
		},
	}
)

func init() {
	scanCmd.Flags().StringVar(&scanCenter, "center", "0,0,0", "Scan centre as x,y,z in micrometres")
	scanCmd.Flags().Float64Var(&scanWidth, "width", 4, "Scan extent in x")
	scanCmd.Flags().Float64Var(&scanHeight, "height", 4, "Scan extent in y")
	scanCmd.Flags().IntVar(&scanNX, "nx", 9, "Points per row")
	scanCmd.Flags().IntVar(&scanNY, "ny", 9, "Number of rows")

	optimizeCmd.Flags().StringVar(&optimizeStart, "start", "0,0,0", "Start position as x,y,z in micrometres")

	correlateCmd.Flags().StringVar(&correlateAt, "at", "0,0,0", "Measurement position as x,y,z in micrometres")

	sampleCmd.Flags().Float64Var(&cellWidth, "width", 4, "Cell extent in x")
	sampleCmd.Flags().Float64Var(&cellHeight, "height", 4, "Cell extent in y")
	sampleCmd.Flags().IntVar(&cellNX, "nx", 9, "Scan points per cell row")
	sampleCmd.Flags().IntVar(&cellNY, "ny", 9, "Scan rows per cell")
}

func parsePositions(args []string) ([]instrument.Position, error) {
	out := make([]instrument.Position, len(args))
	for i, arg := range args {
		p, err := parsePosition(arg)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// parsePosition reads "x,y" or "x,y,z".
func parsePosition(s string) (instrument.Position, error) {
	fields := strings.Split(s, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return instrument.Position{}, fmt.Errorf("position %q: want x,y or x,y,z", s)
	}

	var coords [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return instrument.Position{}, fmt.Errorf("position %q: %w", s, err)
		}
		coords[i] = v
	}
	return instrument.Position{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}
