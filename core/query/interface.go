// Package query defines the interfaces for turning a Description into
// something a store can execute.
package query

// Generator translates a Description for one resource into a parameterized
// statement. Implementations must be safe for concurrent use.
type Generator interface {
	// Compile builds the statement for resource. Identifiers in the result
	// come from the generator's schema table; every caller value is a
	// positional parameter.
	Compile(resource string, desc *Description, opts Options) (Compiled, error)
}
