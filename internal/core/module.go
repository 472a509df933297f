package core

import "strings"

// ModuleID uniquely identifies a module in "namespace.name" form,
// e.g. "gateway.http" or "ledger.sqlite".
type ModuleID string

// Namespace returns the part before the first dot, or the whole ID if
// there is no dot.
func (id ModuleID) Namespace() string {
	if i := strings.Index(string(id), "."); i >= 0 {
		return string(id)[:i]
	}
	return string(id)
}

// Name returns the part after the first dot, or "" if there is no dot.
func (id ModuleID) Name() string {
	if i := strings.Index(string(id), "."); i >= 0 {
		return string(id)[i+1:]
	}
	return ""
}

// ModuleInfo describes a registered module: its ID and a constructor
// returning a fresh, unconfigured instance.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal interface every module implements. Lifecycle
// behavior is added through the optional interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
