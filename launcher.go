package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"gossipnet/gossip"
	"gossipnet/topology"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultStatePath = `.gossip_network.json`

// ---------- State file ----------

type nodeState struct {
	PID   int    `json:"pid"`
	Addr  string `json:"addr"`
	Admin string `json:"admin,omitempty"`
	Peers []int  `json:"peers"`
}

type networkState struct {
	ID         string             `json:"id"`
	Topology   string             `json:"topology"`
	Host       string             `json:"host"`
	PortBase   int                `json:"port_base"`
	RelayLimit int                `json:"relay_limit"`
	Launcher   int                `json:"launcher_pid"`
	Started    time.Time          `json:"started"`
	Nodes      map[int]*nodeState `json:"nodes"`
}

// detach drops id from the network and from every peer list.
func (s *networkState) detach(id int) (*nodeState, bool) {
	ns, ok := s.Nodes[id]
	if !ok {
		return nil, false
	}
	delete(s.Nodes, id)
	for _, other := range s.Nodes {
		other.Peers = slices.DeleteFunc(other.Peers, func(p int) bool { return p == id })
	}
	return ns, true
}

func (s *networkState) nodeIDs() []int {
	ids := make([]int, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func saveJSONAtomic(path string, v any) error {
	tmp := path + `.tmp`
	b, err := json.MarshalIndent(v, ``, `  `)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadState(path string) (*networkState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s networkState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf(`parse %s: %w`, path, err)
	}
	if s.Nodes == nil {
		s.Nodes = map[int]*nodeState{}
	}
	return &s, nil
}

func parseIDList(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, `,`) {
		f = strings.TrimSpace(f)
		if f == `` {
			continue
		}
		id, err := strconv.Atoi(f)
		if err != nil || id < 1 {
			return nil, fmt.Errorf(`bad node id %q`, f)
		}
		out = append(out, id)
	}
	return out, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, `,`)
}

func signalPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ---------- Node process ----------

func cmdNode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`node`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	id := fs.Int(`id`, 0, `this node's number`)
	peers := fs.String(`peers`, ``, `comma separated neighbour numbers`)
	relayLimit := fs.Int(`relay-limit`, gossip.DefaultRelayLimit, `max copies of a message sent to one neighbour`)
	timeout := fs.Duration(`timeout`, gossip.DefaultDialTimeout, `outbound connect/write timeout`)
	dialRate := fs.Float64(`dial-rate`, 0, `outbound dials per second, 0 = unlimited`)
	maxConns := fs.Int(`max-conns`, 256, `concurrent inbound connections, 0 = unlimited`)
	admin := fs.String(`admin`, ``, `HTTP admin address (metrics, status)`)
	verbose := fs.Bool(`v`, false, `debug logging`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id < 1 {
		return fmt.Errorf(`-id is required`)
	}
	ids, err := parseIDList(*peers)
	if err != nil {
		return err
	}
	refs := make([]gossip.PeerRef, 0, len(ids))
	for _, p := range ids {
		refs = append(refs, gossip.PeerRef{ID: gossip.NodeID(p), Addr: af.addr(p)})
	}

	log := newLogger(*verbose)
	n, err := gossip.NewNode(gossip.Config{
		ID:          gossip.NodeID(*id),
		Addr:        af.addr(*id),
		Peers:       refs,
		RelayLimit:  *relayLimit,
		DialTimeout: *timeout,
		DialRate:    *dialRate,
		MaxConns:    *maxConns,
		AdminAddr:   *admin,
		Log:         log.WithField(`node`, *id),
	})
	if err != nil {
		return err
	}
	return n.ListenAndServe(ctx)
}

// ---------- Network lifecycle ----------

func cmdStartNetwork(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`start-network`, flag.ContinueOnError)
	var af addrFlags
	var tf topoFlags
	af.register(fs)
	tf.register(fs, 16)
	adminBase := fs.Int(`admin-base`, 0, `if set, node N serves metrics on admin-base+N`)
	show := fs.Bool(`print`, false, `print the adjacency list before starting`)
	verbose := fs.Bool(`v`, false, `debug logging in every node`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	g, err := tf.generate()
	if err != nil {
		return err
	}
	if *show {
		printTopology(g)
	}
	self, err := os.Executable()
	if err != nil {
		return err
	}

	log := newLogger(*verbose)
	st := &networkState{
		ID:         uuid.NewString(),
		Topology:   string(g.Kind()),
		Host:       af.host,
		PortBase:   af.portBase,
		RelayLimit: tf.relayLimit,
		Launcher:   os.Getpid(),
		Started:    time.Now().UTC(),
		Nodes:      map[int]*nodeState{},
	}

	var (
		wg    sync.WaitGroup
		procs []*exec.Cmd
	)
	for _, id := range g.Nodes() {
		ns := &nodeState{Addr: af.addr(id), Peers: g.Peers(id)}
		argv := []string{`node`,
			`-id`, strconv.Itoa(id),
			`-peers`, joinIDs(ns.Peers),
			`-host`, af.host,
			`-port-base`, strconv.Itoa(af.portBase),
			`-relay-limit`, strconv.Itoa(tf.relayLimit),
		}
		if *adminBase > 0 {
			ns.Admin = fmt.Sprintf(`%s:%d`, af.host, *adminBase+id)
			argv = append(argv, `-admin`, ns.Admin)
		}
		if *verbose {
			argv = append(argv, `-v`)
		}
		cmd := exec.CommandContext(ctx, self, argv...)
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
		cmd.WaitDelay = 3 * time.Second
		if err := cmd.Start(); err != nil {
			for _, p := range procs {
				_ = p.Process.Kill()
			}
			return fmt.Errorf(`start node %d: %w`, id, err)
		}
		ns.PID = cmd.Process.Pid
		st.Nodes[id] = ns
		procs = append(procs, cmd)

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cmd.Wait()
			entry := log.WithField(`node`, id).WithField(`pid`, ns.PID)
			if err != nil && ctx.Err() == nil {
				entry.WithError(err).Warn(`node exited`)
				return
			}
			entry.Debug(`node exited`)
		}()
	}
	if err := saveJSONAtomic(af.state, st); err != nil {
		log.WithError(err).Warn(`could not write state file`)
	}
	log.WithField(`network`, st.ID).
		WithField(`topology`, st.Topology).
		WithField(`nodes`, len(st.Nodes)).
		WithField(`relay_limit`, tf.relayLimit).
		Info(`network started`)
	fmt.Printf("Gossip network started: %d nodes on %s:%d-%d (ctrl-c or `gossip stop-network` to stop)\n",
		g.NumNodes(), af.host, af.portBase+1, af.portBase+g.NumNodes())

	wg.Wait()
	return nil
}

func cmdStopNetwork(args []string) error {
	fs := flag.NewFlagSet(`stop-network`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := loadState(af.state)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println(`No gossip network running`)
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range st.nodeIDs() {
		if err := signalPID(st.Nodes[id].PID); err != nil {
			errs = append(errs, fmt.Errorf(`node %d: %w`, id, err))
		}
	}
	if st.Launcher > 0 && st.Launcher != os.Getpid() {
		_ = signalPID(st.Launcher)
	}
	if err := os.Remove(af.state); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	fmt.Println(`Gossip network stopped`)
	return errors.Join(errs...)
}

func cmdRemoveNode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`remove-node`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := nodeArg(fs, 0)
	if err != nil {
		return err
	}

	var peers []int
	if infos, err := af.client(id).GetPeers(ctx); err == nil {
		for _, p := range infos {
			peers = append(peers, int(p.ID))
		}
	}

	st, err := loadState(af.state)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if st != nil {
		if ns, ok := st.detach(id); ok {
			// node already dead: fall back to what we launched it with
			if peers == nil {
				peers = ns.Peers
			}
			if err := signalPID(ns.PID); err != nil {
				fmt.Printf("could not stop node %d (pid %d): %v\n", id, ns.PID, err)
			}
			if err := saveJSONAtomic(af.state, st); err != nil {
				return err
			}
		}
	}
	if len(peers) == 0 {
		return fmt.Errorf(`node %d: no known peers`, id)
	}

	refs := make([]gossip.PeerRef, 0, len(peers))
	for _, p := range peers {
		refs = append(refs, gossip.PeerRef{ID: gossip.NodeID(p), Addr: af.addr(p)})
	}
	err = gossip.RemoveEverywhere(ctx, gossip.NodeID(id), refs)
	fmt.Printf("Node %d removed, notified peers %s\n", id, joinIDs(peers))
	return err
}

func printTopology(g *topology.Graph) {
	fmt.Printf("%s topology, %d nodes, %d edges\n", g.Kind(), g.NumNodes(), g.NumEdges())
	for _, id := range g.Nodes() {
		fmt.Printf("  %3d: %s\n", id, joinIDs(g.Peers(id)))
	}
	if d, ok := g.Diameter(); ok {
		fmt.Printf("diameter %d\n", d)
	} else {
		fmt.Println(`not connected`)
	}
}
