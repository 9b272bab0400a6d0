package revision

// Null is the reserved id meaning "no revision". It is never stored and
// never appears as a present node in the graph.
const Null = "null:"

// IsNull reports whether id denotes no revision.
func IsNull(id string) bool {
	return id == "" || id == Null
}
