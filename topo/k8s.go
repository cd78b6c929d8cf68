// Package topo discovers this runtime's node membership from the
// Kubernetes API: which pods belong to the same replicated launch, and
// what address each one's msg.Server listens on. It feeds msg.NodeTable
// through AddressSink, so msg does not depend on client-go directly;
// nothing here updates ShardManager.AddressSpaces.
package topo

import (
	"context"
	"fmt"
	"sort"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/taskmesh/taskmesh/cmn"
	"github.com/taskmesh/taskmesh/cmn/nlog"
)

// AddressSink receives discovered node addresses; implemented by
// msg.NodeTable. Kept as a narrow interface so this package doesn't pull
// msg (and its fasthttp/jwt/msgp stack) into a discovery-only binary.
type AddressSink interface {
	Set(node uint16, addr string)
}

// Peer is one discovered runtime pod.
type Peer struct {
	Node uint16
	Addr string
}

// K8sDiscoverer lists pods matching a label selector and assigns each a
// stable node id (by sorted pod name), the same address-space-membership
// role aistore's own node-discovery logic plays over its target list,
// here delegated to the Kubernetes API instead of a config file.
type K8sDiscoverer struct {
	clientset *kubernetes.Clientset
	namespace string
	selector  string
	port      int
}

// NewK8sDiscoverer builds a discoverer from cfg.Topo, using in-cluster
// config when cfg.Topo.Kubeconfig is empty and a kubeconfig file
// otherwise (client-go's standard two-path bootstrap).
func NewK8sDiscoverer(cfg *cmn.Config) (*K8sDiscoverer, error) {
	var restCfg *rest.Config
	var err error
	if cfg.Topo.Kubeconfig == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Topo.Kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("topo: build k8s config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("topo: build k8s clientset: %w", err)
	}
	return &K8sDiscoverer{
		clientset: clientset,
		namespace: cfg.Topo.Namespace,
		selector:  cfg.Topo.LabelSelector,
		port:      cfg.Topo.Port,
	}, nil
}

// Discover lists matching pods once and returns them as stable-numbered
// peers, ordered by pod name so every node computes the identical
// node-id assignment independently (mirrors the sharding functions'
// determinism requirement: every shard must derive the same view).
func (d *K8sDiscoverer) Discover(ctx context.Context) ([]Peer, error) {
	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("topo: list pods: %w", err)
	}
	running := make([]corev1.Pod, 0, len(pods.Items))
	for _, p := range pods.Items {
		if p.Status.PodIP != "" && p.Status.Phase == corev1.PodRunning {
			running = append(running, p)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i].Name < running[j].Name })

	peers := make([]Peer, len(running))
	for i, p := range running {
		peers[i] = Peer{
			Node: uint16(i),
			Addr: fmt.Sprintf("%s:%d", p.Status.PodIP, d.port),
		}
	}
	return peers, nil
}

// Watch polls Discover every interval and pushes the resulting address
// table into sink, logging (not failing) on transient API errors so a
// control-plane blip doesn't tear down an in-progress replicated launch.
func (d *K8sDiscoverer) Watch(ctx context.Context, interval time.Duration, sink AddressSink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		peers, err := d.Discover(ctx)
		if err != nil {
			nlog.Warningf("topo: discovery failed: %v", err)
		} else {
			for _, p := range peers {
				sink.Set(p.Node, p.Addr)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StaticDiscoverer is the non-k8s fallback (§9 "ambient stack still
// applies even when a feature's outer surface is scoped out"): a fixed
// peer list passed to NewStaticDiscoverer, for single-process tests and
// bare-metal deployments that don't run under Kubernetes.
type StaticDiscoverer struct {
	peers []Peer
}

func NewStaticDiscoverer(peers []Peer) *StaticDiscoverer { return &StaticDiscoverer{peers: peers} }

func (d *StaticDiscoverer) Discover(context.Context) ([]Peer, error) {
	return d.peers, nil
}

func (d *StaticDiscoverer) Apply(sink AddressSink) {
	for _, p := range d.peers {
		sink.Set(p.Node, p.Addr)
	}
}
