package graphviz

import (
	"fmt"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/jt05610/flowchem/apparatus"
	"io"
)

// Writer renders an apparatus as a graph: one node per component, one edge
// per tube.
type Writer struct {
	*Config
	g       *cgraph.Graph
	mapping map[*apparatus.Component]*cgraph.Node
}

var shapes = map[apparatus.Kind]cgraph.Shape{
	apparatus.Vessel: cgraph.Shape("cylinder"),
	apparatus.Pump:   cgraph.CircleShape,
	apparatus.Valve:  cgraph.Shape("diamond"),
	apparatus.Sensor: cgraph.BoxShape,
	apparatus.Mixer:  cgraph.Shape("triangle"),
}

func (w *Writer) writeComponent(i int, c *apparatus.Component) error {
	name := fmt.Sprintf("c%d", i)
	node, err := w.g.CreateNode(name)
	if err != nil {
		return err
	}
	node.SetShape(shapes[c.Kind])
	node.SetLabel(c.Name)
	node.Set("fontname", string(w.Font))
	node.SafeSet("kind", c.Kind.String(), "")
	w.mapping[c] = node
	return nil
}

func (w *Writer) writeEdge(i int, e *apparatus.Edge) error {
	src := w.mapping[e.From]
	dst := w.mapping[e.To]
	name := fmt.Sprintf("e%d", i)
	edge, err := w.g.CreateEdge(name, src, dst)
	if err != nil {
		return err
	}
	edge.SetLabel(fmt.Sprintf("%s\n%.3g mL", e.Tube.Length, e.Tube.Volume()))
	edge.Set("fontname", string(w.Font))
	return nil
}

func (w *Writer) Flush(out io.Writer, a *apparatus.Apparatus) error {
	graph := graphviz.New()
	defer func() {
		_ = graph.Close()
	}()
	g, err := graph.Graph()
	if err != nil {
		return err
	}
	defer func() {
		_ = g.Close()
	}()
	g.SetRankDir(cgraph.RankDir(w.RankDir))
	g.SetLabel(w.Name)
	w.g = g
	w.mapping = make(map[*apparatus.Component]*cgraph.Node)
	for i, c := range a.Components() {
		if err := w.writeComponent(i, c); err != nil {
			return err
		}
	}
	for i, e := range a.Edges() {
		if err := w.writeEdge(i, e); err != nil {
			return err
		}
	}
	return graph.Render(w.g, w.Format, out)
}

type Font string

func (f Font) Or(other Font) Font {
	return f + "," + other
}

const (
	Helvetica Font = "Helvetica"
	Arial     Font = "Arial"
	SansSerif Font = "sans-serif"
	Times     Font = "Times"
)

type RankDir string

const (
	LeftToRight RankDir = "LR"
	TopToBottom RankDir = "TB"
)

type Config struct {
	Name string
	Font
	RankDir
	Format graphviz.Format
}

func New(config *Config) *Writer {
	if config.Name == "" {
		config.Name = "apparatus"
	}
	if config.Font == "" {
		config.Font = Helvetica
	}
	if config.RankDir == "" {
		config.RankDir = LeftToRight
	}
	if config.Format == "" {
		config.Format = graphviz.XDOT
	}
	return &Writer{Config: config}
}

// FormatFor maps a file extension to an output format.
func FormatFor(ext string) (graphviz.Format, error) {
	switch ext {
	case ".dot", ".gv", "":
		return graphviz.XDOT, nil
	case ".svg":
		return graphviz.SVG, nil
	case ".png":
		return graphviz.PNG, nil
	case ".jpg", ".jpeg":
		return graphviz.JPG, nil
	}
	return "", fmt.Errorf("unsupported graph format %q", ext)
}
