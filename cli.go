// gossip runs and pokes at a flooding gossip network on localhost.
//
// Every node is a small TCP server listening on PORT_BASE+id. Commands:
//
//	gossip start-network [flags]          spawn one node process per topology vertex
//	gossip stop-network                   kill every process recorded in the state file
//	gossip node -id N -peers a,b,...      run a single node in the foreground
//	gossip send-message <node> <text>     originate a message at a node
//	gossip get-messages [-status s] [-paths p] <node>
//	gossip remove-node <node>             kill a node and detach it from its peers
//	gossip list-peers <node>              show a node's current peers
//	gossip link <node>                    print a node's address + QR
//	gossip simulate [flags]               run a whole network in-process once
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/sirupsen/logrus"

	"gossipnet/gossip"
	"gossipnet/topology"
)

const Version = `0.5.0`

const usage = `Gossip.

Usage:
  gossip start-network [-topology circular|random|powerlaw|turan] [-n 16] [-k 3] [-m 3] [-p 0.5] [-r 3] [-seed 0] [-relay-limit 1] [-print]
  gossip stop-network
  gossip node -id <n> -peers <a,b,...> [-relay-limit 1] [-admin addr]
  gossip send-message <node-number> <message>
  gossip get-messages [-status unread|read|all] [-paths shortest|longest|shortest-and-longest|all] <node-number>
  gossip remove-node <node-number>
  gossip list-peers <node-number>
  gossip link <node-number>
  gossip simulate [-topology ...] [-n 8] [-message hello] [-origin 1]

Common flags: -host 127.0.0.1 -port-base 7000 -state .gossip_network.json
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case `start-network`:
		err = cmdStartNetwork(ctx, args)
	case `stop-network`:
		err = cmdStopNetwork(args)
	case `node`:
		err = cmdNode(ctx, args)
	case `send-message`:
		err = cmdSendMessage(ctx, args)
	case `get-messages`:
		err = cmdGetMessages(ctx, args)
	case `remove-node`:
		err = cmdRemoveNode(ctx, args)
	case `list-peers`:
		err = cmdListPeers(ctx, args)
	case `link`:
		err = cmdLink(args)
	case `simulate`:
		err = cmdSimulate(ctx, args)
	case `version`, `-version`, `--version`:
		fmt.Println(`gossip`, Version)
	case `help`, `-h`, `--help`:
		fmt.Print(usage)
	default:
		fmt.Print(usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Println(`error:`, err)
		os.Exit(1)
	}
}

// ---------- Flags ----------

type addrFlags struct {
	host     string
	portBase int
	state    string
}

func (a *addrFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&a.host, `host`, gossip.Localhost, `host every node listens on`)
	fs.IntVar(&a.portBase, `port-base`, gossip.PortBase, `node N listens on port-base+N`)
	fs.StringVar(&a.state, `state`, defaultStatePath, `network bookkeeping file`)
}

func (a *addrFlags) addr(id int) string {
	return fmt.Sprintf(`%s:%d`, a.host, a.portBase+id)
}

func (a *addrFlags) client(id int) *gossip.Client {
	return gossip.NewClient(a.addr(id))
}

type topoFlags struct {
	kind       string
	n          int
	params     topology.Params
	relayLimit int
}

func (t *topoFlags) register(fs *flag.FlagSet, defaultN int) {
	d := topology.DefaultParams()
	fs.StringVar(&t.kind, `topology`, string(topology.Circular), `circular | random | powerlaw | turan`)
	fs.IntVar(&t.n, `n`, defaultN, `number of nodes`)
	fs.IntVar(&t.params.K, `k`, d.K, `random-k-regular degree`)
	fs.IntVar(&t.params.M, `m`, d.M, `powerlaw-cluster edges per new node`)
	fs.Float64Var(&t.params.P, `p`, d.P, `powerlaw-cluster triangle probability`)
	fs.IntVar(&t.params.R, `r`, d.R, `complete-multipartite partitions`)
	fs.Uint64Var(&t.params.Seed, `seed`, 0, `random seed, 0 picks one`)
	fs.IntVar(&t.relayLimit, `relay-limit`, gossip.DefaultRelayLimit, `max copies of a message sent to one neighbour`)
}

func (t *topoFlags) generate() (*topology.Graph, error) {
	kind, err := topology.ParseKind(t.kind)
	if err != nil {
		return nil, err
	}
	return topology.Generate(kind, t.n, t.params)
}

func nodeArg(fs *flag.FlagSet, i int) (int, error) {
	if fs.NArg() <= i {
		return 0, fmt.Errorf(`missing <node-number>`)
	}
	id, err := strconv.Atoi(fs.Arg(i))
	if err != nil || id < 1 {
		return 0, fmt.Errorf(`bad node number %q`, fs.Arg(i))
	}
	return id, nil
}

func newLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: `15:04:05.000`})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// ---------- Client commands ----------

func cmdSendMessage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`send-message`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := nodeArg(fs, 0)
	if err != nil {
		return err
	}
	text := strings.Join(fs.Args()[1:], ` `)
	if text == `` {
		return fmt.Errorf(`missing <message>`)
	}
	c := af.client(id)
	if err := c.SendMessage(ctx, text); err != nil {
		return err
	}
	fmt.Printf("Message sent to %s\n", c)
	return nil
}

func cmdGetMessages(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`get-messages`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	status := fs.String(`status`, string(gossip.StatusAll), `unread | read | all`)
	paths := fs.String(`paths`, string(gossip.PathsAll), `shortest | longest | shortest-and-longest | all`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := nodeArg(fs, 0)
	if err != nil {
		return err
	}
	sf, err := gossip.ParseStatusFilter(*status)
	if err != nil {
		return err
	}
	pf, err := gossip.ParsePathFilter(*paths)
	if err != nil {
		return err
	}
	c := af.client(id)
	msgs, err := c.GetMessages(ctx, sf, pf)
	if err != nil {
		return err
	}
	fmt.Printf("Fetched messages from %s\n", c)
	printMessages(msgs)
	return nil
}

func printMessages(msgs gossip.Messages) {
	for _, id := range msgs.SortedIDs() {
		ts := time.Unix(0, id.TS).Format(`15:04:05.000`)
		for _, p := range msgs[id] {
			fmt.Printf("- [%s] %s (%s)\n", ts, id.Text, formatPath(p))
		}
	}
}

func formatPath(p []gossip.NodeID) string {
	parts := make([]string, 0, len(p))
	for _, id := range p {
		parts = append(parts, fmt.Sprintf(`Node %d`, id))
	}
	return strings.Join(parts, ` -> `)
}

func cmdListPeers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`list-peers`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := nodeArg(fs, 0)
	if err != nil {
		return err
	}
	c := af.client(id)
	peers, err := c.GetPeers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s has peers:\n", c)
	for _, p := range peers {
		fmt.Printf("* %s\n", p.Name)
	}
	return nil
}

func cmdLink(args []string) error {
	fs := flag.NewFlagSet(`link`, flag.ContinueOnError)
	var af addrFlags
	af.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := nodeArg(fs, 0)
	if err != nil {
		return err
	}
	link := fmt.Sprintf(`gossip://%s?node=%d`, af.addr(id), id)
	fmt.Println(`Node address (or scan the QR):`)
	fmt.Println(link)
	fmt.Println()
	qrterminal.GenerateWithConfig(link, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    os.Stdout,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Println()
	return nil
}

// ---------- Simulation ----------

func cmdSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(`simulate`, flag.ContinueOnError)
	var tf topoFlags
	tf.register(fs, 8)
	message := fs.String(`message`, `hello`, `message text`)
	origin := fs.Int(`origin`, 1, `node that originates the message`)
	portBase := fs.Int(`port-base`, 0, `0 = ephemeral ports`)
	verbose := fs.Bool(`v`, false, `debug logging`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	g, err := tf.generate()
	if err != nil {
		return err
	}
	if *origin < 1 || *origin > g.NumNodes() {
		return fmt.Errorf(`origin %d not in 1..%d`, *origin, g.NumNodes())
	}
	log := newLogger(*verbose)
	if !*verbose {
		log.SetLevel(logrus.WarnLevel)
	}
	nw, err := gossip.NewNetwork(g, gossip.NetworkConfig{PortBase: *portBase, RelayLimit: tf.relayLimit, Log: log})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- nw.Run(ctx) }()

	id := nw.Node(gossip.NodeID(*origin)).Submit(*message)
	nw.Quiesce(200 * time.Millisecond)

	fmt.Printf("network %s: %s, %d nodes, %d edges, relay limit %d\n", nw.ID, g.Kind(), g.NumNodes(), g.NumEdges(), tf.relayLimit)
	if d, ok := g.Diameter(); ok {
		fmt.Printf("diameter %d\n", d)
	}
	reached := 0
	for _, nid := range nw.IDs() {
		r, ok := nw.Node(nid).Store().Get(id)
		if !ok {
			fmt.Printf("node %d: not reached\n", nid)
			continue
		}
		reached++
		fmt.Printf("node %d: %d path(s)\n", nid, len(r.Paths))
		sort.SliceStable(r.Paths, func(i, j int) bool { return len(r.Paths[i]) < len(r.Paths[j]) })
		for _, p := range r.Paths {
			fmt.Printf("    %s\n", formatPath(p))
		}
	}
	fmt.Printf("reached %d/%d nodes\n", reached, g.NumNodes())

	cancel()
	return <-done
}
