package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeTransport struct {
	users      map[int64]kit.User
	sendErr    error
	sent       []sent
	lookupChat int64
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, sent{to, text, opt})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) ResolveUser(_ context.Context, chatID, userID int64) (kit.User, error) {
	f.lookupChat = chatID
	u, ok := f.users[userID]
	if !ok {
		return kit.User{}, errors.New("user not found")
	}
	return u, nil
}

func TestDeliverMentionsAuthor(t *testing.T) {
	tr := &fakeTransport{users: map[int64]kit.User{7: {ID: 7, FirstName: "Ada", LastName: "Lovelace"}}}
	g := NewGateway(tr, logx.Nop())

	require.NoError(t, g.Deliver(context.Background(), -100, 3, 7, "standup <now> & go"))
	require.Len(t, tr.sent, 1)
	s := tr.sent[0]
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 3}, s.to)
	assert.Equal(t, `<a href="tg://user?id=7">Ada Lovelace</a> standup &lt;now&gt; &amp; go`, s.text)
	assert.Equal(t, "HTML", s.opt.ParseMode)
	assert.Equal(t, int64(-100), tr.lookupChat)
}

func TestDeliverUnknownAuthorFallsBackToID(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGateway(tr, logx.Nop())

	require.NoError(t, g.Deliver(context.Background(), 5, 0, 99, "hi"))
	assert.Equal(t, `<a href="tg://user?id=99">99</a> hi`, tr.sent[0].text)
}

func TestDeliverSendError(t *testing.T) {
	boom := errors.New("chat not found")
	g := NewGateway(&fakeTransport{sendErr: boom}, logx.Nop())
	err := g.Deliver(context.Background(), 5, 0, 1, "hi")
	assert.ErrorIs(t, err, boom)
}

func TestFormatUsesUsernameWhenNoName(t *testing.T) {
	got := Format(kit.User{ID: 1, Username: "bob"}, 1, "x")
	assert.Equal(t, `<a href="tg://user?id=1">@bob</a> x`, got)
}
