//go:build tools

// Package rewritegate tracks tool dependencies invoked via go generate.
package rewritegate

import (
	_ "go.uber.org/mock/mockgen"
)
