// Package cmn holds configuration, error types, and small shared helpers
// used across the runtime core, modeled on the teacher's own cmn package
// (config.go / errors.go / cos helpers), reduced to this repo's domain.
package cmn

import "sync/atomic"

// Config holds the admission-control and pipeline knobs referenced
// throughout §4 and §5 of the spec. It is loaded once at process start and
// shared by value through GCO, the way aistore shares *cmn.Config.
type Config struct {
	Context struct {
		// MaxOutstandingChildren is the window-admission high-water mark:
		// register_new_child_operation blocks once outstanding children
		// reach this count.
		MaxOutstandingChildren int
		// LowWater is the outstanding-children count at which a commit
		// logs that the window has drained. Window slots are released
		// one per committed child; a blocked registration does not wait
		// for the count to fall to LowWater.
		LowWater int
		// MaxOutstandingFrames bounds pending_frames (§4.1 issue_frame).
		MaxOutstandingFrames int
	}
	Xfer struct {
		// MaxReqSize caps a single Request's byte count (§4.4 step 2).
		MaxReqSize int64
		// ChannelCapacity is the default per-channel in-flight cap.
		ChannelCapacity int
		// DMAWorkers is the number of XferDesQueue worker goroutines.
		DMAWorkers int
	}
	Repl struct {
		// Radix is the default collective fan-out/fan-in degree.
		Radix int
	}
	Msg struct {
		// ListenAddr is the host:port this node's msg.Server binds to.
		ListenAddr string
		// JWTSecret signs ReplicateLaunch/lifecycle envelopes (HS256).
		JWTSecret string
	}
	Topo struct {
		// Namespace scopes the k8s pod listing used to discover peers.
		Namespace string
		// LabelSelector picks out this runtime's pods among others in
		// the namespace.
		LabelSelector string
		// Kubeconfig is empty for in-cluster discovery, or a path to a
		// kubeconfig file for out-of-cluster/dev use.
		Kubeconfig string
		// Port is the msg.Server port every discovered pod listens on.
		Port int
	}
	Metrics struct {
		// ListenAddr is where the Prometheus /metrics handler binds.
		ListenAddr string
	}
	Verbosity int
}

// DefaultConfig mirrors the constants the spec calls out by example
// (1 MiB per-channel cap in §4.4, etc.).
func DefaultConfig() *Config {
	c := &Config{}
	c.Context.MaxOutstandingChildren = 256
	c.Context.LowWater = 128
	c.Context.MaxOutstandingFrames = 4
	c.Xfer.MaxReqSize = 1 << 20 // 1 MiB, per §4.4 step 2
	c.Xfer.ChannelCapacity = 64
	c.Xfer.DMAWorkers = 4
	c.Repl.Radix = 4
	c.Msg.ListenAddr = ":9090"
	c.Topo.Namespace = "default"
	c.Topo.LabelSelector = "app=taskmeshd"
	c.Topo.Port = 9090
	c.Metrics.ListenAddr = ":9091"
	return c
}

// globalConfigOwner is the runtime-wide config holder, modeled on
// aistore's cmn.GCO (global config owner): config is loaded once and
// accessed by value through an atomic.Value so readers never race with a
// (rare) reload.
type globalConfigOwner struct {
	v atomic.Value
}

func (g *globalConfigOwner) Get() *Config {
	c, _ := g.v.Load().(*Config)
	if c == nil {
		c = DefaultConfig()
		g.v.Store(c)
	}
	return c
}

func (g *globalConfigOwner) Put(c *Config) { g.v.Store(c) }

// GCO is the process-wide config owner. Test doubles construct their own
// Config and call GCO.Put in TestMain or per-test setup.
var GCO = &globalConfigOwner{}

func init() { GCO.Put(DefaultConfig()) }
