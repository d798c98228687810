package main

import (
	"github.com/spf13/cobra"

	"github.com/geoflow/geoflow/pkg/source"
	"github.com/geoflow/geoflow/pkg/tui"
)

func runInfo(cmd *cobra.Command, args []string) error {
	reader, err := source.Open(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	layers := reader.Layers()
	info := make([]tui.LayerInfo, 0, len(layers))
	for _, l := range layers {
		info = append(info, tui.LayerInfo{
			Name:         l.Name,
			GeometryType: l.GeometryType,
			FieldCount:   len(l.Fields),
			RecordCount:  l.RecordCount,
		})
	}

	tui.PrintInfo(args[0], info)
	return nil
}
