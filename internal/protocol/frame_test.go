package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{`},
		{name: "unknown type", raw: `{"type":"ping"}`},
		{name: "command without id", raw: `{"type":"command","name":"search"}`},
		{name: "command without name", raw: `{"type":"command","id":3}`},
		{name: "event without name", raw: `{"type":"event"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCommandFrameCarriesPayload(t *testing.T) {
	raw, err := NewCommand(4, CmdGetMessages, GetMessages{ChatID: 9, Offset: 10})
	require.NoError(t, err)

	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), f.ID)

	var p GetMessages
	require.NoError(t, DecodePayload(f.Payload, &p))
	assert.Equal(t, GetMessages{ChatID: 9, Offset: 10}, p)
}

func TestAckOmitsNilData(t *testing.T) {
	raw, err := NewAck(2, StatusAuthError, nil, "not a member")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","id":2,"status":"auth_error","error":"not a member"}`, string(raw))
}

func TestTargetAcceptsIDOrUsername(t *testing.T) {
	var p SendMessage
	require.NoError(t, json.Unmarshal([]byte(`{"target":12,"content":"hi"}`), &p))
	assert.Equal(t, ChatTarget(12), p.Target)

	require.NoError(t, json.Unmarshal([]byte(`{"target":"bob","content":"hi"}`), &p))
	assert.Equal(t, UserTarget("bob"), p.Target)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"bob","content":"hi"}`, string(out))

	err = DecodePayload(json.RawMessage(`{"target":[1],"content":"x"}`), &p)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPayloadValidation(t *testing.T) {
	long := func(n int) *string {
		s := ""
		for i := 0; i < n; i++ {
			s += "a"
		}
		return &s
	}
	tests := []struct {
		name    string
		payload Validator
		valid   bool
	}{
		{name: "empty message", payload: &SendMessage{Target: ChatTarget(1), Content: "  "}},
		{name: "attachment message", payload: &SendMessage{Target: ChatTarget(1), Attachment: &Upload{Type: "text/plain", Data: []byte("x")}}, valid: true},
		{name: "username with separator", payload: &SendMessage{Target: UserTarget("a:b"), Content: "x"}},
		{name: "group of one", payload: &CreateGroupChat{Members: []string{"bob"}}},
		{name: "group of two others", payload: &CreateGroupChat{Members: []string{"bob", "carol"}}, valid: true},
		{name: "name at cap", payload: &SetChatName{ChatID: 1, Name: long(MaxChatNameLength)}, valid: true},
		{name: "name over cap", payload: &SetChatName{ChatID: 1, Name: long(MaxChatNameLength + 1)}},
		{name: "nickname over cap", payload: &SetChatNickname{ChatID: 1, Username: "bob", Nickname: long(MaxNicknameLength + 1)}},
		{name: "cover not image", payload: &SetChatCover{ChatID: 1, Cover: &Upload{Type: "text/plain", Data: []byte("x")}}},
		{name: "cover cleared", payload: &SetChatCover{ChatID: 1}, valid: true},
		{name: "negative offset", payload: &GetMessages{ChatID: 1, Offset: -1}},
		{name: "empty search", payload: &Search{Query: "   "}},
		{name: "search over cap", payload: &Search{Query: *long(MaxSearchLength + 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestValidateNormalizesOptionalStrings(t *testing.T) {
	blank := "   "
	p := SetChatName{ChatID: 1, Name: &blank}
	require.NoError(t, p.Validate())
	assert.Nil(t, p.Name)

	s := Search{Query: "  BoB "}
	require.NoError(t, s.Validate())
	assert.Equal(t, "bob", s.Query)
}
