// Command taskmeshd runs one node of the task-mesh runtime: it wires the
// core context tree, the XferDes pipeline and its Channel backends, the
// control-replication layer, the msg transport, topology discovery, and
// the Prometheus metrics endpoint into a single long-running process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/cmn/nlog"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/metrics"
	"github.com/taskmesh/taskmesh/msg"
	"github.com/taskmesh/taskmesh/topo"
	"github.com/taskmesh/taskmesh/xfer"
)

func main() {
	var (
		nodeID       = flag.Uint("node", 0, "this process's node id")
		listenAddr   = flag.String("listen", "", "msg.Server bind address (overrides config default)")
		metricsAddr  = flag.String("metrics", "", "Prometheus bind address (overrides config default)")
		jwtSecret    = flag.String("jwt-secret", "", "HS256 secret for ReplicateLaunch envelopes (overrides config default)")
		kubeconfig   = flag.String("kubeconfig", "", "path to a kubeconfig file; empty means in-cluster discovery")
		dmaWorkers   = flag.Int("dma-workers", 0, "per-channel DMA worker count (overrides config default)")
	)
	flag.Parse()

	cfg := cmn.DefaultConfig()
	if *listenAddr != "" {
		cfg.Msg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.ListenAddr = *metricsAddr
	}
	if *jwtSecret != "" {
		cfg.Msg.JWTSecret = *jwtSecret
	}
	cfg.Topo.Kubeconfig = *kubeconfig
	if *dmaWorkers > 0 {
		cfg.Xfer.DMAWorkers = *dmaWorkers
	}
	cmn.GCO.Put(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	secret := []byte(cfg.Msg.JWTSecret)
	if len(secret) == 0 {
		nlog.Warningf("taskmeshd: no --jwt-secret given; running with an empty signing key, do not use in production")
	}
	dispatcher := msg.NewDispatcher(secret)
	dispatcher.Set(uint16(*nodeID), cfg.Msg.ListenAddr)

	server := msg.NewServer(dispatcher, cfg.Msg.ListenAddr)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			nlog.Errorf("taskmeshd: msg server exited: %v", err)
		}
	}()
	defer server.Shutdown()

	metricsReg := metrics.NewRegistry()
	go func() {
		if err := metricsReg.Serve(cfg.Metrics.ListenAddr); err != nil {
			nlog.Errorf("taskmeshd: metrics server exited: %v", err)
		}
	}()

	if cfg.Topo.LabelSelector != "" {
		if disc, err := topo.NewK8sDiscoverer(cfg); err != nil {
			nlog.Warningf("taskmeshd: kubernetes discovery unavailable, staying on static address table: %v", err)
		} else {
			go disc.Watch(ctx, 10*time.Second, dispatcher)
		}
	}

	chanReg := xfer.NewRegistry()
	chanReg.Register(xfer.NewMemcpyChannel(xfer.NewBufferMemory(), cfg.Xfer.ChannelCapacity))
	chanReg.Register(xfer.NewRemoteWriteChannel(dispatcher, cfg.Xfer.ChannelCapacity))

	xdQueue := xfer.NewXferDesQueue(chanReg)
	go func() {
		if err := xdQueue.Run(ctx); err != nil && ctx.Err() == nil {
			nlog.Errorf("taskmeshd: xfer queue exited: %v", err)
		}
	}()
	defer xdQueue.Close()

	rootCtx := core.NewTopLevelContext(cfg)

	nlog.Infof("taskmeshd: node %d listening msg=%s metrics=%s", *nodeID, cfg.Msg.ListenAddr, cfg.Metrics.ListenAddr)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			nlog.Infof("taskmeshd: shutting down")
			return
		case <-ticker.C:
			metricsReg.SampleOverhead(rootCtx.String(), rootCtx.Overhead())
		}
	}
}
