package condition

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
)

type value struct {
	kind valueKind
	str  string
	num  float64
	b    bool
}

func (v value) truthy() bool {
	switch v.kind {
	case kindString:
		return v.str != ""
	case kindNumber:
		return v.num != 0
	default:
		return v.b
	}
}

// equal compares two values. Values of different kinds are never equal.
func (v value) equal(o value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case kindString:
		return v.str == o.str
	case kindNumber:
		return v.num == o.num
	default:
		return v.b == o.b
	}
}

func boolValue(b bool) value {
	return value{kind: kindBool, b: b}
}

type node interface {
	eval() (value, error)
}

type literalNode struct {
	val value
}

func (n *literalNode) eval() (value, error) {
	return n.val, nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval() (value, error) {
	v, err := n.operand.eval()
	if err != nil {
		return value{}, err
	}
	return boolValue(!v.truthy()), nil
}

type andNode struct {
	left, right node
}

func (n *andNode) eval() (value, error) {
	l, err := n.left.eval()
	if err != nil {
		return value{}, err
	}
	if !l.truthy() {
		return boolValue(false), nil
	}
	r, err := n.right.eval()
	if err != nil {
		return value{}, err
	}
	return boolValue(r.truthy()), nil
}

type orNode struct {
	left, right node
}

func (n *orNode) eval() (value, error) {
	l, err := n.left.eval()
	if err != nil {
		return value{}, err
	}
	if l.truthy() {
		return boolValue(true), nil
	}
	r, err := n.right.eval()
	if err != nil {
		return value{}, err
	}
	return boolValue(r.truthy()), nil
}

type compareNode struct {
	negate      bool
	left, right node
}

func (n *compareNode) eval() (value, error) {
	l, err := n.left.eval()
	if err != nil {
		return value{}, err
	}
	r, err := n.right.eval()
	if err != nil {
		return value{}, err
	}
	eq := l.equal(r)
	if n.negate {
		eq = !eq
	}
	return boolValue(eq), nil
}
