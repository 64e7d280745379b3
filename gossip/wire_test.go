package gossip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Request
	}{
		{
			name: "new",
			line: "/NEW:hello world\n",
			want: Request{Cmd: CmdNew, Text: `hello world`},
		},
		{
			name: "new keeps colons in text",
			line: "/NEW:time: 12:30\n",
			want: Request{Cmd: CmdNew, Text: `time: 12:30`},
		},
		{
			name: "relay",
			line: `/RELAY:["hi_1700000000000000001",[1,2]]` + "\n",
			want: Request{Cmd: CmdRelay, ID: MessageID{Text: `hi`, TS: 1700000000000000001}, Path: []NodeID{1, 2}},
		},
		{
			name: "relay text with underscores",
			line: `/RELAY:["a_b_c_42",[3]]`,
			want: Request{Cmd: CmdRelay, ID: MessageID{Text: `a_b_c`, TS: 42}, Path: []NodeID{3}},
		},
		{
			name: "get",
			line: "/GET:unread|shortest-and-longest\n",
			want: Request{Cmd: CmdGet, Status: StatusUnread, Paths: PathsShortestAndLongest},
		},
		{
			name: "get defaults",
			line: "/GET:\n",
			want: Request{Cmd: CmdGet, Status: StatusAll, Paths: PathsAll},
		},
		{
			name: "get status only",
			line: "/GET:read\n",
			want: Request{Cmd: CmdGet, Status: StatusRead, Paths: PathsAll},
		},
		{
			name: "peers",
			line: "/PEERS:\n",
			want: Request{Cmd: CmdPeers},
		},
		{
			name: "remove",
			line: "/REMOVE:7\r\n",
			want: Request{Cmd: CmdRemove, Peer: 7},
		},
		{
			name: "only first line counts",
			line: "/REMOVE:3\n/REMOVE:4\n",
			want: Request{Cmd: CmdRemove, Peer: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.line))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseRequestMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"/NEW hello\n",
		"/SHOUT:hello\n",
		"/RELAY:not json\n",
		`/RELAY:["hi_1"]`,
		`/RELAY:["hi",[1]]`,
		`/RELAY:["hi_x",[1]]`,
		`/RELAY:["hi_1",[]]`,
		"/GET:everything|all\n",
		"/GET:all|median\n",
		"/REMOVE:abc\n",
		"/REMOVE:0\n",
		`/RELAY:["hi_1",[0]]`,
		`/RELAY:["hi_1",[2,-1]]`,
		"/NEW:bad\xffbyte\n",
		"/RELAY:[\"bad\xffbyte_1\",[1]]\n",
	} {
		_, err := ParseRequest([]byte(line))
		require.ErrorIs(t, err, ErrMalformedCommand, "line %q", line)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, req := range []Request{
		NewMessage(`hello`),
		Relay(MessageID{Text: `with "quotes" and _`, TS: 99}, []NodeID{4, 2, 9}),
		Get(StatusRead, PathsLongest),
		ListPeers(),
		Remove(12),
	} {
		line, err := req.Encode()
		require.NoError(t, err)
		require.Equal(t, byte('\n'), line[len(line)-1])

		got, err := ParseRequest(line)
		require.NoError(t, err)
		require.Equal(t, req, got)
	}
}

func TestEncodeWireFormat(t *testing.T) {
	line, err := Relay(MessageID{Text: `hi`, TS: 5}, []NodeID{1, 2}).Encode()
	require.NoError(t, err)
	require.Equal(t, "/RELAY:[\"hi_5\",[1,2]]\n", string(line))

	line, err = ListPeers().Encode()
	require.NoError(t, err)
	require.Equal(t, "/PEERS:\n", string(line))

	line, err = Get(``, ``).Encode()
	require.NoError(t, err)
	require.Equal(t, "/GET:all|all\n", string(line))
}

func TestEncodeRejectsMultilineText(t *testing.T) {
	_, err := NewMessage("two\nlines").Encode()
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestMessagesJSON(t *testing.T) {
	in := Messages{
		{Text: `hi`, TS: 10}:  {{1, 2, 3}, {1, 4, 3}},
		{Text: `a_b`, TS: 11}: {{3}},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"hi_10":[[1,2,3],[1,4,3]],"a_b_11":[[3]]}`, string(b))

	var out Messages
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)
	require.Equal(t, []MessageID{{Text: `hi`, TS: 10}, {Text: `a_b`, TS: 11}}, out.SortedIDs())
}

func TestPeerInfoJSON(t *testing.T) {
	b, err := json.Marshal([]PeerInfo{{ID: 2, Name: `node-2@127.0.0.1:7002`}})
	require.NoError(t, err)
	require.JSONEq(t, `[[2,"node-2@127.0.0.1:7002"]]`, string(b))

	var out []PeerInfo
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, []PeerInfo{{ID: 2, Name: `node-2@127.0.0.1:7002`}}, out)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := NewMessage("bad\xffbyte").Encode()
	require.ErrorIs(t, err, ErrMalformedCommand)

	_, err = Relay(MessageID{Text: "bad\xffbyte", TS: 5}, []NodeID{1}).Encode()
	require.ErrorIs(t, err, ErrMalformedCommand)
}

func TestValidTextSurvivesRelay(t *testing.T) {
	for in, want := range map[string]string{
		`plain`:          `plain`,
		"bad\xffbyte":    "bad\uFFFDbyte",
		"two\xff\xfebad": "two\uFFFD\uFFFDbad",
		"ok \uFFFD":      "ok \uFFFD",
	} {
		id := MessageID{Text: validText(in), TS: 5}
		require.Equal(t, want, id.Text)

		line, err := Relay(id, []NodeID{1}).Encode()
		require.NoError(t, err)
		got, err := ParseRequest(line)
		require.NoError(t, err)
		require.Equal(t, id, got.ID, "text %q", in)
	}
}
