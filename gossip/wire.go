package gossip

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrMalformedCommand = errors.New(`malformed command`)
	ErrPeerUnreachable  = errors.New(`peer unreachable`)
)

// NodeID identifies a node. A node listens on PortBase + id.
type NodeID int

const (
	PortBase  = 7000
	Localhost = `127.0.0.1`
)

// AddrFor is the default listening address of a node.
func AddrFor(id NodeID) string {
	return fmt.Sprintf(`%s:%d`, Localhost, PortBase+int(id))
}

// MessageID is the dedup key of a message: its text plus the origin's
// submission time. It never changes after creation.
type MessageID struct {
	Text string
	TS   int64
}

// Key is the wire form `<text>_<ts>`.
func (m MessageID) Key() string {
	return m.Text + `_` + strconv.FormatInt(m.TS, 10)
}

func (m MessageID) String() string { return m.Key() }

// ParseMessageKey splits on the last underscore so text may contain `_`.
func ParseMessageKey(key string) (MessageID, error) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return MessageID{}, fmt.Errorf(`%w: message key %q has no timestamp`, ErrMalformedCommand, key)
	}
	ts, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf(`%w: message key %q: %v`, ErrMalformedCommand, key, err)
	}
	return MessageID{Text: key[:i], TS: ts}, nil
}

// ---------- Filters ----------

type StatusFilter string

const (
	StatusUnread StatusFilter = `unread`
	StatusRead   StatusFilter = `read`
	StatusAll    StatusFilter = `all`
)

func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case ``:
		return StatusAll, nil
	case StatusUnread, StatusRead, StatusAll:
		return f, nil
	}
	return ``, fmt.Errorf(`%w: unknown status filter %q`, ErrMalformedCommand, s)
}

type PathFilter string

const (
	PathsShortest           PathFilter = `shortest`
	PathsLongest            PathFilter = `longest`
	PathsShortestAndLongest PathFilter = `shortest-and-longest`
	PathsAll                PathFilter = `all`
)

func ParsePathFilter(s string) (PathFilter, error) {
	switch f := PathFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case ``:
		return PathsAll, nil
	case PathsShortest, PathsLongest, PathsShortestAndLongest, PathsAll:
		return f, nil
	}
	return ``, fmt.Errorf(`%w: unknown path filter %q`, ErrMalformedCommand, s)
}

// ---------- Commands ----------

type Command int

const (
	CmdNew Command = iota + 1
	CmdRelay
	CmdGet
	CmdPeers
	CmdRemove
)

func (c Command) String() string {
	switch c {
	case CmdNew:
		return `NEW`
	case CmdRelay:
		return `RELAY`
	case CmdGet:
		return `GET`
	case CmdPeers:
		return `PEERS`
	case CmdRemove:
		return `REMOVE`
	}
	return `UNKNOWN`
}

func parseCommand(verb string) (Command, bool) {
	switch verb {
	case `/NEW`:
		return CmdNew, true
	case `/RELAY`:
		return CmdRelay, true
	case `/GET`:
		return CmdGet, true
	case `/PEERS`:
		return CmdPeers, true
	case `/REMOVE`:
		return CmdRemove, true
	}
	return 0, false
}

// Request is one decoded command line. Only the fields of Cmd are set.
type Request struct {
	Cmd Command

	Text string // NEW

	ID   MessageID // RELAY
	Path []NodeID  // RELAY, ends at the sender

	Status StatusFilter // GET
	Paths  PathFilter   // GET

	Peer NodeID // REMOVE
}

func NewMessage(text string) Request { return Request{Cmd: CmdNew, Text: text} }

func Relay(id MessageID, path []NodeID) Request {
	return Request{Cmd: CmdRelay, ID: id, Path: path}
}

func Get(status StatusFilter, paths PathFilter) Request {
	return Request{Cmd: CmdGet, Status: status, Paths: paths}
}

func ListPeers() Request { return Request{Cmd: CmdPeers} }

func Remove(id NodeID) Request { return Request{Cmd: CmdRemove, Peer: id} }

// ParseRequest decodes the first line of raw.
func ParseRequest(raw []byte) (Request, error) {
	line := raw
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, "\r")

	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return Request{}, fmt.Errorf(`%w: missing ':' in %q`, ErrMalformedCommand, truncate(line))
	}
	verb, payload := string(line[:i]), line[i+1:]
	cmd, ok := parseCommand(strings.ToUpper(strings.TrimSpace(verb)))
	if !ok {
		return Request{}, fmt.Errorf(`%w: unknown verb %q`, ErrMalformedCommand, verb)
	}

	req := Request{Cmd: cmd}
	switch cmd {
	case CmdNew:
		if !utf8.Valid(payload) {
			return Request{}, fmt.Errorf(`%w: message text is not valid UTF-8`, ErrMalformedCommand)
		}
		req.Text = string(payload)
	case CmdRelay:
		id, path, err := decodeRelay(payload)
		if err != nil {
			return Request{}, err
		}
		req.ID, req.Path = id, path
	case CmdGet:
		status, paths, _ := strings.Cut(string(payload), `|`)
		var err error
		if req.Status, err = ParseStatusFilter(status); err != nil {
			return Request{}, err
		}
		if req.Paths, err = ParsePathFilter(paths); err != nil {
			return Request{}, err
		}
	case CmdPeers:
	case CmdRemove:
		id, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil || id < 1 {
			return Request{}, fmt.Errorf(`%w: bad node id %q`, ErrMalformedCommand, payload)
		}
		req.Peer = NodeID(id)
	}
	return req, nil
}

// Encode renders req as one newline-terminated line.
func (r Request) Encode() ([]byte, error) {
	var payload string
	switch r.Cmd {
	case CmdNew:
		if strings.ContainsAny(r.Text, "\r\n") {
			return nil, fmt.Errorf(`%w: message text must be a single line`, ErrMalformedCommand)
		}
		if !utf8.ValidString(r.Text) {
			return nil, fmt.Errorf(`%w: message text is not valid UTF-8`, ErrMalformedCommand)
		}
		payload = r.Text
	case CmdRelay:
		b, err := encodeRelay(r.ID, r.Path)
		if err != nil {
			return nil, err
		}
		payload = string(b)
	case CmdGet:
		status, paths := r.Status, r.Paths
		if status == `` {
			status = StatusAll
		}
		if paths == `` {
			paths = PathsAll
		}
		payload = string(status) + `|` + string(paths)
	case CmdPeers:
	case CmdRemove:
		payload = strconv.Itoa(int(r.Peer))
	default:
		return nil, fmt.Errorf(`%w: unknown command %d`, ErrMalformedCommand, r.Cmd)
	}
	return []byte(`/` + r.Cmd.String() + `:` + payload + "\n"), nil
}

func encodeRelay(id MessageID, path []NodeID) ([]byte, error) {
	if !utf8.ValidString(id.Text) {
		return nil, fmt.Errorf(`%w: message text is not valid UTF-8`, ErrMalformedCommand)
	}
	if path == nil {
		path = []NodeID{}
	}
	return json.Marshal([]any{id.Key(), path})
}

func decodeRelay(payload []byte) (MessageID, []NodeID, error) {
	if !utf8.Valid(payload) {
		return MessageID{}, nil, fmt.Errorf(`%w: relay payload is not valid UTF-8`, ErrMalformedCommand)
	}
	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil || len(parts) != 2 {
		return MessageID{}, nil, fmt.Errorf(`%w: relay payload %q`, ErrMalformedCommand, truncate(payload))
	}
	var key string
	if err := json.Unmarshal(parts[0], &key); err != nil {
		return MessageID{}, nil, fmt.Errorf(`%w: relay message key: %v`, ErrMalformedCommand, err)
	}
	id, err := ParseMessageKey(key)
	if err != nil {
		return MessageID{}, nil, err
	}
	var path []NodeID
	if err := json.Unmarshal(parts[1], &path); err != nil {
		return MessageID{}, nil, fmt.Errorf(`%w: relay path: %v`, ErrMalformedCommand, err)
	}
	if len(path) == 0 {
		return MessageID{}, nil, fmt.Errorf(`%w: relay path is empty`, ErrMalformedCommand)
	}
	for _, v := range path {
		if v < 1 {
			return MessageID{}, nil, fmt.Errorf(`%w: relay path has node id %d`, ErrMalformedCommand, v)
		}
	}
	return id, path, nil
}

// ---------- Responses ----------

// PeerInfo is one entry of a /PEERS response, encoded as [id, name].
type PeerInfo struct {
	ID   NodeID
	Name string
}

func (p PeerInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.ID, p.Name})
}

func (p *PeerInfo) UnmarshalJSON(b []byte) error {
	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf(`peer entry: want [id, name], got %d elements`, len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &p.Name)
}

// Messages is the decoded form of a /GET response.
type Messages map[MessageID][][]NodeID

func (m Messages) MarshalJSON() ([]byte, error) {
	out := make(map[string][][]NodeID, len(m))
	for id, paths := range m {
		out[id.Key()] = paths
	}
	return json.Marshal(out)
}

func (m *Messages) UnmarshalJSON(b []byte) error {
	var raw map[string][][]NodeID
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Messages, len(raw))
	for key, paths := range raw {
		id, err := ParseMessageKey(key)
		if err != nil {
			return err
		}
		out[id] = paths
	}
	*m = out
	return nil
}

// validText replaces every byte that is not part of a valid UTF-8 sequence
// with U+FFFD.
func validText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + `…`
	}
	return string(b)
}
