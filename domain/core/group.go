package core

// Group is a treatment group label. Experiments always split leads across
// exactly two groups.
type Group string

const (
	GroupA Group = "A"
	GroupB Group = "B"
)

// Valid reports whether g is one of the two known groups.
func (g Group) Valid() bool {
	return g == GroupA || g == GroupB
}

// Other returns the opposite group.
func (g Group) Other() Group {
	if g == GroupA {
		return GroupB
	}
	return GroupA
}

func (g Group) String() string { return string(g) }
