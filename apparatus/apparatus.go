package apparatus

import (
	"fmt"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// Edge is a tube running from one component to another.
type Edge struct {
	From *Component
	To   *Component
	Tube *Tube
}

// Apparatus is the labeled directed graph of components joined by tubes. It
// is assembled once and read-only during execution.
type Apparatus struct {
	Name       string
	names      *NameRegistry
	logger     *zap.Logger
	components []*Component
	active     map[string]*ActiveComponent
	index      map[string]int
	edges      []*Edge
}

type Option func(*Apparatus)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Apparatus) {
		a.logger = logger
	}
}

// New creates an empty apparatus. Names are drawn from reg, which is scoped to
// the caller's build session; a fresh registry is used when reg is nil.
func New(name string, reg *NameRegistry, opts ...Option) *Apparatus {
	if reg == nil {
		reg = NewNameRegistry()
	}
	a := &Apparatus{
		Name:   name,
		names:  reg,
		logger: zap.NewNop(),
		active: make(map[string]*ActiveComponent),
		index:  make(map[string]int),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Apparatus) insert(kind Kind, name string) (*Component, error) {
	name, err := a.names.Register(kind, name)
	if err != nil {
		return nil, err
	}
	c := &Component{Name: name, Kind: kind}
	a.index[name] = len(a.components)
	a.components = append(a.components, c)
	return c, nil
}

func (a *Apparatus) Vessel(name, description string) (*Component, error) {
	c, err := a.insert(Vessel, name)
	if err != nil {
		return nil, err
	}
	c.Description = description
	return c, nil
}

func (a *Apparatus) Mixer(name string) (*Component, error) {
	return a.insert(Mixer, name)
}

func (a *Apparatus) addActive(kind Kind, name, address string, mapping map[string]int) (*ActiveComponent, error) {
	if address == "" {
		return nil, Invalid(kindName(kind, name), "active components need an address")
	}
	c, err := a.insert(kind, name)
	if err != nil {
		return nil, err
	}
	ac := &ActiveComponent{Component: c, Address: address, Mapping: mapping}
	a.active[c.Name] = ac
	return ac, nil
}

func kindName(kind Kind, name string) string {
	if name == "" {
		return kind.String()
	}
	return name
}

func (a *Apparatus) Pump(name, address string) (*ActiveComponent, error) {
	return a.addActive(Pump, name, address, nil)
}

func (a *Apparatus) Sensor(name, address string) (*ActiveComponent, error) {
	return a.addActive(Sensor, name, address, nil)
}

func (a *Apparatus) Valve(name, address string, mapping map[string]int) (*ActiveComponent, error) {
	if len(mapping) == 0 {
		return nil, Invalid(kindName(Valve, name), "valves need a setting to position mapping")
	}
	m := make(map[string]int, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return a.addActive(Valve, name, address, m)
}

// Add inserts a directed edge. Both ends must belong to this apparatus.
func (a *Apparatus) Add(from, to *Component, via *Tube) error {
	for _, c := range []*Component{from, to} {
		if c == nil {
			return Invalid("edge", "nil component")
		}
		if !a.owns(c) {
			return Invalid(c.Name, "component is not part of apparatus "+a.Name)
		}
	}
	if from == to {
		return Invalid(from.Name, "cannot connect a component to itself")
	}
	if via == nil {
		return Invalid(fmt.Sprintf("%s -> %s", from, to), "missing tube")
	}
	if err := via.Validate(); err != nil {
		return err
	}
	if via.Warning != "" {
		a.logger.Warn(via.Warning,
			zap.String("from", from.Name),
			zap.String("to", to.Name),
			zap.String("length", via.Length.String()),
		)
	}
	a.edges = append(a.edges, &Edge{From: from, To: to, Tube: via})
	return nil
}

func (a *Apparatus) owns(c *Component) bool {
	i, ok := a.index[c.Name]
	return ok && a.components[i] == c
}

func (a *Apparatus) Component(name string) (*Component, bool) {
	i, ok := a.index[name]
	if !ok {
		return nil, false
	}
	return a.components[i], true
}

func (a *Apparatus) Active(name string) (*ActiveComponent, bool) {
	ac, ok := a.active[name]
	return ac, ok
}

// Components returns components in insertion order.
func (a *Apparatus) Components() []*Component {
	ret := make([]*Component, len(a.components))
	copy(ret, a.components)
	return ret
}

// ActiveComponents returns the controllable components in insertion order.
func (a *Apparatus) ActiveComponents() []*ActiveComponent {
	ret := make([]*ActiveComponent, 0, len(a.active))
	for _, c := range a.components {
		if ac, ok := a.active[c.Name]; ok {
			ret = append(ret, ac)
		}
	}
	return ret
}

func (a *Apparatus) Edges() []*Edge {
	ret := make([]*Edge, len(a.edges))
	copy(ret, a.edges)
	return ret
}

// Outputs returns the edges leaving c.
func (a *Apparatus) Outputs(c *Component) []*Edge {
	var ret []*Edge
	for _, e := range a.edges {
		if e.From == c {
			ret = append(ret, e)
		}
	}
	return ret
}

func (a *Apparatus) Inputs(c *Component) []*Edge {
	var ret []*Edge
	for _, e := range a.edges {
		if e.To == c {
			ret = append(ret, e)
		}
	}
	return ret
}

// terminal vessels have no way out.
func (a *Apparatus) terminal(c *Component) bool {
	return c.Kind == Vessel && len(a.Outputs(c)) == 0
}

func (a *Apparatus) graph() *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for i := range a.components {
		g.AddNode(simple.Node(i))
	}
	for _, e := range a.edges {
		from, to := simple.Node(a.index[e.From.Name]), simple.Node(a.index[e.To.Name])
		if from == to || g.HasEdgeFromTo(from.ID(), to.ID()) {
			continue
		}
		g.SetEdge(g.NewEdge(from, to))
	}
	return g
}

// Validate fails with a TopologyError when an active component scheduled at a
// nonzero rate (running[name] is true) cannot reach a terminal vessel.
func (a *Apparatus) Validate(running map[string]bool) error {
	g := a.graph()
	for _, ac := range a.ActiveComponents() {
		if !running[ac.Name] {
			continue
		}
		var bfs traverse.BreadthFirst
		found := bfs.Walk(g, simple.Node(a.index[ac.Name]), func(n graph.Node, _ int) bool {
			return a.terminal(a.components[n.ID()])
		})
		if found == nil {
			return &TopologyError{Component: ac.Name}
		}
	}
	return nil
}

// SummaryRow describes one tube in the apparatus.
type SummaryRow struct {
	From     string
	To       string
	Length   string
	ID       string
	OD       string
	Material string
	Volume   float64
}

func (a *Apparatus) Summary() []SummaryRow {
	ret := make([]SummaryRow, 0, len(a.edges))
	for _, e := range a.edges {
		ret = append(ret, SummaryRow{
			From:     e.From.Name,
			To:       e.To.Name,
			Length:   e.Tube.Length.String(),
			ID:       e.Tube.InnerDiameter.String(),
			OD:       e.Tube.OuterDiameter.String(),
			Material: e.Tube.Material,
			Volume:   e.Tube.Volume(),
		})
	}
	return ret
}

// TotalVolume is the internal tubing volume in mL.
func (a *Apparatus) TotalVolume() float64 {
	var v float64
	for _, e := range a.edges {
		v += e.Tube.Volume()
	}
	return v
}
