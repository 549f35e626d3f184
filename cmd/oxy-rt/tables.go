package main

import (
	"fmt"
	"io"

	"github.com/Carmen-Shannon/oxy-rt/engine/profiler"
	"github.com/Carmen-Shannon/oxy-rt/engine/renderer"
	"github.com/Carmen-Shannon/oxy-rt/engine/scene"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

// writeAssetTable lists every registered mesh.
func writeAssetTable(w io.Writer, registry scene.SceneAssetRegistry) {
	table := newTable(w, "Mesh", "Source", "Kind", "Vertices", "Triangles", "Materials")
	var vertices, triangles int
	for _, m := range registry.Meshes() {
		vertices += len(m.Vertices)
		triangles += len(m.Indices) / 3
		table.Append([]string{
			fmt.Sprint(m.Index),
			m.Name,
			m.Kind.String(),
			fmt.Sprint(len(m.Vertices)),
			fmt.Sprint(len(m.Indices) / 3),
			fmt.Sprint(len(m.Materials)),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", fmt.Sprint(vertices), fmt.Sprint(triangles), ""})
	table.Render()
}

// writeStructureTable lists the bottom-level structures and the top-level structure with
// their sizes and offsets inside the shared result and scratch buffers.
func writeStructureTable(w io.Writer, r renderer.Renderer) {
	table := newTable(w, "Kind", "Mesh", "Geometries", "Result", "Scratch", "Result offset", "Address")
	if bottom := r.BottomLevel(); bottom != nil {
		for _, as := range bottom.Structures() {
			table.Append([]string{
				as.Kind.String(),
				fmt.Sprintf("%d (%s)", as.Bottom.MeshIndex, as.Bottom.MeshKind),
				fmt.Sprint(len(as.Geometries)),
				profiler.FormatBytes(as.Sizes.ResultSize),
				profiler.FormatBytes(as.Sizes.ScratchSize),
				fmt.Sprint(as.ResultOffset),
				fmt.Sprintf("0x%x", as.DeviceAddress()),
			})
		}
	}
	if top := r.TopLevel(); top != nil {
		as := top.Structure()
		table.Append([]string{
			as.Kind.String(),
			fmt.Sprintf("%d instances", len(top.Records())),
			fmt.Sprint(len(as.Geometries)),
			profiler.FormatBytes(as.Sizes.ResultSize),
			profiler.FormatBytes(as.Sizes.ScratchSize),
			fmt.Sprint(as.ResultOffset),
			fmt.Sprintf("0x%x", as.DeviceAddress()),
		})
	}
	table.Render()
}

func writeRebuildTable(w io.Writer, stats profiler.RebuildStats) {
	table := newTable(w, "Rebuilds", "Min", "Mean", "P95", "Max")
	table.Append([]string{
		fmt.Sprint(stats.Count),
		stats.Min.String(),
		stats.Mean.String(),
		stats.P95.String(),
		stats.Max.String(),
	})
	table.Render()
}
