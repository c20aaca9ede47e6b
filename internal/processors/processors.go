// Package processors declares the built-in metric processors.
package processors

import "github.com/aevon-lab/tally/internal/core/metric"

// All returns every built-in definition.
func All() []metric.Definition {
	return []metric.Definition{Image(), Post(), Model(), Tag()}
}
