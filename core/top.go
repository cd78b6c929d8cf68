package core

import "github.com/taskmesh/taskmesh/cmn"

// TopLevelContext is the root of the context tree: an InnerContext with no
// parent (§3: "parent-context lookup" bottoms out here).
type TopLevelContext struct {
	InnerContext
}

var _ Context = (*TopLevelContext)(nil)

func NewTopLevelContext(config *cmn.Config) *TopLevelContext {
	tc := &TopLevelContext{}
	tc.contextCore = newContextCore(KindTop, nil, config)
	tc.setSelf(tc)
	return tc
}
