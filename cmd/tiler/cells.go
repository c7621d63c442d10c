package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geohash-tiler/internal/core/model"
	"github.com/mohammed-shakir/geohash-tiler/internal/export/geojson"
	"github.com/mohammed-shakir/geohash-tiler/internal/mapper/geohash"
)

func newCellsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cells",
		Short: "Print the candidate geohash cells of a box as GeoJSON",
		Long: `Print every geohash cell a split of --bbox would evaluate, with its
coverage and whether the current threshold accepts it.

Example:
  tiler cells --bbox 0,0,40,20 -p 2 --min-coverage 0.5 > cells.geojson`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rawBBox, _ := cmd.Flags().GetString("bbox")
			box, err := model.ParseBBox(rawBBox)
			if err != nil {
				return fmt.Errorf("--bbox: %w", err)
			}
			limit, _ := cmd.Flags().GetInt64("limit")

			grid := geohash.New()
			if _, err := grid.Limit(box, cfg.Precision, limit); err != nil {
				return fmt.Errorf("%w; lower the precision or raise --limit", err)
			}
			seq, err := grid.CellsFor(box, cfg.Precision)
			if err != nil {
				return err
			}
			fc := geojson.Cells(box, seq, cfg.Threshold())
			fc.Append(geojson.Footprint(box))
			return json.NewEncoder(cmd.OutOrStdout()).Encode(fc)
		},
	}
	cmd.Flags().String("bbox", "", "box as minLon,minLat,maxLon,maxLat (required)")
	cmd.Flags().Int64("limit", 100_000, "refuse to list more cells than this (0 disables)")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}
