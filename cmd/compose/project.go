package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/nodes"
)

// projectFile is the on-disk shape of the --project argument: a minimal
// JSON description of a node graph. Project serialization itself is
// spec.md §1's explicitly out-of-scope external collaborator (a real host
// has its own project format and its own plugin-backed Node
// implementations); this is only enough to drive the render core
// end-to-end with the two built-in nodes package "nodes" supplies.
type projectFile struct {
	Format struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"format"`
	Nodes   []projectNode   `json:"nodes"`
	Root    string          `json:"root"`
	Writers []projectWriter `json:"writers"`
}

type projectNode struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"` // "solid" or "over"
	Color  []float64 `json:"color,omitempty"`
	Inputs []string  `json:"inputs,omitempty"`
}

// projectWriter is one named output the --writer flag can select (spec.md
// §6 "--writer <name>"), mirroring how a compositing project names its
// Write nodes rather than the CLI hard-coding one output format. Type
// names a writer backend (only "png" is built in — see writer.go); Path is
// the output path prefix each rendered frame is appended to.
type projectWriter struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// project is the loaded, ready-to-render form of a project file.
type project struct {
	Graph   *graph.Graph
	Root    graph.NodeID
	Format  imagekey.Rect
	Writers map[string]projectWriter
}

// loadProject reads path and builds the graph, root node, and project
// format a render needs; loadProjectFull also returns the named writers.
func loadProject(path string) (g *graph.Graph, root graph.NodeID, format imagekey.Rect, err error) {
	p, err := loadProjectFull(path)
	if err != nil {
		return nil, graph.Invalid, imagekey.Rect{}, err
	}
	return p.Graph, p.Root, p.Format, nil
}

func loadProjectFull(path string) (*project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	var pf projectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	if pf.Format.Width <= 0 || pf.Format.Height <= 0 {
		return nil, fmt.Errorf("parse project: format.width/height must be positive")
	}
	format := imagekey.Rect{MinX: 0, MinY: 0, MaxX: pf.Format.Width, MaxY: pf.Format.Height}

	g := graph.New()
	ids := make(map[string]graph.NodeID, len(pf.Nodes))

	// Pass 1: create every node so forward-referenced inputs (an "over"
	// wired to a node declared later in the file) resolve on pass 2.
	for _, n := range pf.Nodes {
		node, err := buildNode(n, format)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		ids[n.ID] = g.AddNode(node)
	}

	for _, n := range pf.Nodes {
		id := ids[n.ID]
		for i, inputName := range n.Inputs {
			inputID, ok := ids[inputName]
			if !ok {
				return nil, fmt.Errorf("node %q: unknown input %q", n.ID, inputName)
			}
			if err := g.Connect(id, i, inputID); err != nil {
				return nil, fmt.Errorf("node %q: %w", n.ID, err)
			}
		}
	}

	rootID, ok := ids[pf.Root]
	if !ok {
		return nil, fmt.Errorf("parse project: unknown root %q", pf.Root)
	}

	writers := make(map[string]projectWriter, len(pf.Writers))
	for _, w := range pf.Writers {
		writers[w.Name] = w
	}

	return &project{Graph: g, Root: rootID, Format: format, Writers: writers}, nil
}

func buildNode(n projectNode, format imagekey.Rect) (graph.Node, error) {
	switch n.Type {
	case "solid":
		c := nodes.Color{A: 1}
		if len(n.Color) > 0 {
			c.R = n.Color[0]
		}
		if len(n.Color) > 1 {
			c.G = n.Color[1]
		}
		if len(n.Color) > 2 {
			c.B = n.Color[2]
		}
		if len(n.Color) > 3 {
			c.A = n.Color[3]
		}
		return &nodes.Solid{Format: format, Fill: c}, nil
	case "over":
		return &nodes.Over{Format: format}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
}
