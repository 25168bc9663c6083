package graphviz

import (
	"github.com/goccy/go-graphviz/cgraph"
	"io"
)

// Node is a component read back from a rendered graph.
type Node struct {
	Name string
	Kind string
}

type Edge struct {
	From string
	To   string
}

// Topology is the component graph recovered from DOT output.
type Topology struct {
	Nodes []Node
	Edges []Edge
}

// Read parses DOT written by Writer.
func Read(reader io.Reader) (*Topology, error) {
	bytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	g, err := cgraph.ParseBytes(bytes)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = g.Close()
	}()
	t := &Topology{}
	labels := make(map[string]string)
	for node := g.FirstNode(); node != nil; node = g.NextNode(node) {
		n := Node{Name: node.Get("label"), Kind: node.Get("kind")}
		labels[node.Name()] = n.Name
		t.Nodes = append(t.Nodes, n)
	}
	for n := g.FirstNode(); n != nil; n = g.NextNode(n) {
		for edge := g.FirstOut(n); edge != nil; edge = g.NextOut(edge) {
			t.Edges = append(t.Edges, Edge{From: labels[n.Name()], To: labels[edge.Node().Name()]})
		}
	}
	return t, nil
}
