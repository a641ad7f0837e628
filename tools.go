//go:build tools
// +build tools

// Package storylab pins the code generators used by go generate (mockgen).
package storylab

import (
	_ "go.uber.org/mock/mockgen"
)
