package keydist

// SingleNode is a one-member cluster that is always its own leader.
type SingleNode struct {
	Node Node
}

var _ Cluster = SingleNode{}

// LocalNode returns the only member.
func (s SingleNode) LocalNode() Node { return s.Node }

// IsLeader always reports true.
func (s SingleNode) IsLeader() bool { return true }

// Members returns the only member.
func (s SingleNode) Members() []Node { return []Node{s.Node} }
