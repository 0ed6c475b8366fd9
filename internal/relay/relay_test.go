package relay_test

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/relaychat/internal/chat"
	"github.com/Tyrowin/relaychat/internal/mocks"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/relay"
	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/Tyrowin/relaychat/internal/testhelpers"
)

var (
	userA = chat.Identity{UserID: "u-a", Username: "anna"}
	userB = chat.Identity{UserID: "u-b", Username: "ben"}
	userC = chat.Identity{UserID: "u-c", Username: "cleo"}
)

type fixture struct {
	reg         *registry.Registry
	store       *mocks.MockMessageStore
	attachments *mocks.MockAttachmentStore
	relay       *relay.Relay
}

func newFixture(t *testing.T, opts relay.Options) fixture {
	ctrl := gomock.NewController(t)
	reg := registry.New()
	messages := mocks.NewMockMessageStore(ctrl)
	attachments := mocks.NewMockAttachmentStore(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return fixture{
		reg:         reg,
		store:       messages,
		attachments: attachments,
		relay:       relay.New(messages, attachments, reg, opts, log),
	}
}

func bind(t *testing.T, reg *registry.Registry, name string, id chat.Identity) *testhelpers.RecordingConn {
	t.Helper()
	c := testhelpers.NewRecordingConn(name)
	require.NoError(t, reg.Register(c, id))
	return c
}

func TestRelay_Forwards_To_Every_Recipient_Connection(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	c1 := bind(t, f.reg, "c1", userA)
	c2 := bind(t, f.reg, "c2", userB)
	c3 := bind(t, f.reg, "c3", userB)

	// Given storage assigns an id, and nothing is forwarded before it returns
	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m chat.Message) (chat.Message, error) {
			req.Empty(c2.Sent())
			req.Empty(c3.Sent())
			req.Equal(userA.UserID, m.Sender)
			req.Equal(userB.UserID, m.Recipient)
			req.Equal("hi", m.Text)
			m.ID = "msg-1"
			m.CreatedAt = time.Now()
			return m, nil
		}).Times(1)

	// When A sends a text message to B
	stored, err := f.relay.HandleInbound(context.Background(), c1, []byte(`{"recipient":"u-b","text":"hi"}`))

	// Then both of B's connections receive the same event
	req.NoError(err)
	req.Equal("msg-1", stored.ID)
	req.Len(c2.Sent(), 1)
	req.Len(c3.Sent(), 1)
	req.Equal(c2.Sent()[0], c3.Sent()[0])

	var evt chat.MessageEvent
	testhelpers.DecodeSent(t, c2, 0, &evt)
	req.Equal(chat.MessageEvent{Text: "hi", Sender: "u-a", Recipient: "u-b", ID: "msg-1"}, evt)

	// And the sender's connection gets nothing
	req.Empty(c1.Sent())
}

func TestRelay_Unbound_Connection_Is_Dropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	anon := testhelpers.NewRecordingConn("anon")
	f.reg.Add(anon)
	c2 := bind(t, f.reg, "c2", userB)

	_, err := f.relay.HandleInbound(context.Background(), anon, []byte(`{"recipient":"u-b","text":"hi"}`))

	req.ErrorIs(err, chat.ErrUnbound)
	req.Empty(c2.Sent())
}

func TestRelay_Malformed_Envelopes_Are_Dropped(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Missing recipient", `{"text":"hi"}`},
		{"Missing text and attachment", `{"recipient":"u-b"}`},
		{"Empty text and no attachment", `{"recipient":"u-b","text":""}`},
		{"Attachment without data", `{"recipient":"u-b","attachment":{"name":"a.png"}}`},
		{"Attachment with invalid base64", `{"recipient":"u-b","attachment":{"name":"a.png","data":"***"}}`},
		{"Data url without payload", `{"recipient":"u-b","attachment":{"name":"a.png","data":"data:image/png;base64"}}`},
		{"Recipient with NUL", `{"recipient":"u-alice\u0000u-bob","text":"spoof"}`},
		{"Recipient with newline", `{"recipient":"u-b\n","text":"hi"}`},
		{"Not json", `hello`},
		{"Json array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			// No EXPECT on the stores: any call fails the test
			f := newFixture(t, relay.Options{})
			c1 := bind(t, f.reg, "c1", userA)
			c2 := bind(t, f.reg, "c2", userB)

			_, err := f.relay.HandleInbound(context.Background(), c1, []byte(tt.raw))

			req.ErrorIs(err, chat.ErrMalformedEnvelope)
			req.Empty(c2.Sent())
		})
	}
}

func TestRelay_Storage_Failure_Prevents_Forward(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	c1 := bind(t, f.reg, "c1", userA)
	c2 := bind(t, f.reg, "c2", userB)

	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).
		Return(chat.Message{}, errors.New("disk full")).Times(1)

	_, err := f.relay.HandleInbound(context.Background(), c1, []byte(`{"recipient":"u-b","text":"hi"}`))

	req.ErrorIs(err, chat.ErrStorageFailure)
	req.Empty(c2.Sent())
}

func TestRelay_Attachment_Is_Stored_Then_Referenced(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	c1 := bind(t, f.reg, "c1", userA)
	c2 := bind(t, f.reg, "c2", userB)
	raw := []byte("\x89PNG fake image bytes")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	gomock.InOrder(
		f.attachments.EXPECT().Save(gomock.Any(), "cat.png", raw).Return("1700000000000-abcd1234.png", nil).Times(1),
		f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, m chat.Message) (chat.Message, error) {
				req.Equal("1700000000000-abcd1234.png", m.AttachmentRef)
				req.Empty(m.Text)
				m.ID = "msg-2"
				return m, nil
			}).Times(1),
	)

	envelope := `{"recipient":"u-b","attachment":{"name":"cat.png","data":"` + dataURL + `"}}`
	_, err := f.relay.HandleInbound(context.Background(), c1, []byte(envelope))
	req.NoError(err)

	var evt chat.MessageEvent
	testhelpers.DecodeSent(t, c2, 0, &evt)
	req.Equal("1700000000000-abcd1234.png", evt.AttachmentRef)
	req.Equal("msg-2", evt.ID)
}

func TestRelay_Attachment_Failure_Prevents_Persist(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	c1 := bind(t, f.reg, "c1", userA)
	c2 := bind(t, f.reg, "c2", userB)

	f.attachments.EXPECT().Save(gomock.Any(), "notes.txt", []byte("hello")).
		Return("", errors.New("permission denied")).Times(1)

	envelope := `{"recipient":"u-b","text":"see file","attachment":{"name":"notes.txt","data":"aGVsbG8="}}`
	_, err := f.relay.HandleInbound(context.Background(), c1, []byte(envelope))

	req.ErrorIs(err, chat.ErrStorageFailure)
	req.Empty(c2.Sent())
}

func TestRelay_Echo_To_Sender_Other_Connections(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{EchoToSender: true})
	phone := bind(t, f.reg, "phone", userA)
	laptop := bind(t, f.reg, "laptop", userA)
	c2 := bind(t, f.reg, "c2", userB)

	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, m chat.Message) (chat.Message, error) {
			m.ID = "msg-3"
			return m, nil
		}).Times(1)

	_, err := f.relay.HandleInbound(context.Background(), phone, []byte(`{"recipient":"u-b","text":"hi"}`))
	req.NoError(err)

	req.Len(c2.Sent(), 1)
	req.Len(laptop.Sent(), 1)
	req.Empty(phone.Sent())
}

func TestRelay_Offline_Recipient_Is_Persisted_For_History(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()

	ctrl := gomock.NewController(t)
	reg := registry.New()
	messages := store.NewBadgerStore(db, log)
	r := relay.New(messages, mocks.NewMockAttachmentStore(ctrl), reg, relay.Options{}, log)
	c1 := bind(t, reg, "c1", userA)

	// When A sends to C who has no live connection
	stored, err := r.HandleInbound(context.Background(), c1, []byte(`{"recipient":"u-c","text":"are you there?"}`))
	req.NoError(err)
	req.NotEmpty(stored.ID)

	// Then nothing was pushed
	req.Empty(c1.Sent())
	req.Empty(reg.ConnectionsFor(userC.UserID))

	// And a later history query returns the message
	history, err := r.History(context.Background(), userC.UserID, userA.UserID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(stored.ID, history[0].ID)
	req.Equal("are you there?", history[0].Text)
	req.Equal(userA.UserID, history[0].Sender)
	req.Equal(userC.UserID, history[0].Recipient)
}

func TestRelay_History_Wraps_Store_Failure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	f.store.EXPECT().Conversation(gomock.Any(), "u-a", "u-b").Return(nil, errors.New("closed")).Times(1)

	_, err := f.relay.History(context.Background(), "u-a", "u-b")
	req.ErrorIs(err, chat.ErrStorageFailure)
}

func TestRelay_Persist_Failure_Removes_Stored_Attachment(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, relay.Options{})
	c1 := bind(t, f.reg, "c1", userA)
	c2 := bind(t, f.reg, "c2", userB)

	gomock.InOrder(
		f.attachments.EXPECT().Save(gomock.Any(), "notes.txt", []byte("hello")).Return("1700000000000-abcd1234.txt", nil).Times(1),
		f.store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.New("disk full")).Times(1),
		f.attachments.EXPECT().Delete("1700000000000-abcd1234.txt").Return(nil).Times(1),
	)

	envelope := `{"recipient":"u-b","attachment":{"name":"notes.txt","data":"aGVsbG8="}}`
	_, err := f.relay.HandleInbound(context.Background(), c1, []byte(envelope))

	req.ErrorIs(err, chat.ErrStorageFailure)
	req.Empty(c2.Sent())
}

func TestRelay_Resolves_Sender_Before_Routing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	messages := mocks.NewMockMessageStore(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	r := relay.New(messages, mocks.NewMockAttachmentStore(ctrl), dir, relay.Options{}, log)
	from := testhelpers.NewRecordingConn("from")
	to := testhelpers.NewRecordingConn("to")

	gomock.InOrder(
		dir.EXPECT().IdentityOf(from).Return(userA, true).Times(1),
		messages.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, m chat.Message) (chat.Message, error) {
				req.Equal(userA.UserID, m.Sender)
				m.ID = "msg-4"
				return m, nil
			}).Times(1),
		dir.EXPECT().ConnectionsFor(userB.UserID).Return([]registry.Conn{to}).Times(1),
	)

	_, err := r.HandleInbound(context.Background(), from, []byte(`{"recipient":"u-b","text":"hi"}`))
	req.NoError(err)
	req.Len(to.Sent(), 1)
}

func TestRelay_Unbound_Sender_Is_Never_Routed(t *testing.T) {
	ctrl := gomock.NewController(t)
	dir := mocks.NewMockDirectory(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	r := relay.New(mocks.NewMockMessageStore(ctrl), mocks.NewMockAttachmentStore(ctrl), dir, relay.Options{}, log)
	anon := testhelpers.NewRecordingConn("anon")

	// ConnectionsFor has no EXPECT: calling it fails the test
	dir.EXPECT().IdentityOf(anon).Return(chat.Identity{}, false).Times(1)

	_, err := r.HandleInbound(context.Background(), anon, []byte(`{"recipient":"u-b","text":"hi"}`))
	require.ErrorIs(t, err, chat.ErrUnbound)
}
