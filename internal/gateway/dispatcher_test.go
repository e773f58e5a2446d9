package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/comet-live/backend/internal/broadcast"
	"github.com/comet-live/backend/internal/db"
	"github.com/comet-live/backend/internal/mocks"
	"github.com/comet-live/backend/internal/model"
	"github.com/comet-live/backend/internal/registry"
)

var fixedNow = time.UnixMilli(1700000000123)

// recordingSender stands in for the transport: it keeps every frame sent to
// each connection and reports connections marked gone.
type recordingSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	gone   map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		frames: make(map[string][][]byte),
		gone:   make(map[string]bool),
	}
}

func (s *recordingSender) Send(_ context.Context, connectionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[connectionID] {
		return fmt.Errorf("%s: %w", connectionID, model.ErrConnectionGone)
	}
	s.frames[connectionID] = append(s.frames[connectionID], data)
	return nil
}

func (s *recordingSender) received(t *testing.T, connectionID string) []*model.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := make([]*model.Envelope, 0, len(s.frames[connectionID]))
	for _, f := range s.frames[connectionID] {
		env, err := model.ParseEnvelope(f)
		if err != nil {
			t.Fatalf("connection %s received an invalid frame: %v", connectionID, err)
		}
		envs = append(envs, env)
	}
	return envs
}

type countingFanout struct {
	calls int
}

func (f *countingFanout) Broadcast(context.Context, string, []string, *model.Envelope) (broadcast.Result, error) {
	f.calls++
	return broadcast.Result{}, nil
}

type harness struct {
	store       registry.Store
	sender      *recordingSender
	broadcaster *broadcast.Broadcaster
	dispatcher  *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := registry.NewSQLiteStore(database)
	sender := newRecordingSender()
	b := broadcast.New(sender, store, zerolog.Nop())

	ids := 0
	d := New(store, b, sender, zerolog.Nop(),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("srv-%d", ids)
		}),
	)
	return &harness{store: store, sender: sender, broadcaster: b, dispatcher: d}
}

func commentFrame(t *testing.T, id, content string) []byte {
	t.Helper()
	env, err := model.NewEnvelope(model.MessageTypeNewComment, model.NewCommentPayload{
		Comment: model.Comment{
			ID:        id,
			Content:   content,
			Timestamp: 42,
			Style:     model.CommentStyle{Color: "#FFFFFF", Size: model.CommentSizeMedium},
		},
	}, time.UnixMilli(42))
	if err != nil {
		t.Fatalf("failed to build comment: %v", err)
	}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal comment: %v", err)
	}
	return data
}

func TestDispatcher_CommentReachesRoom(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	req.NoError(h.dispatcher.OnConnect(ctx, "A"))
	req.NoError(h.dispatcher.OnConnect(ctx, "B"))

	req.NoError(h.dispatcher.OnMessage(ctx, "A", commentFrame(t, "client-id", "hi")))

	got := h.sender.received(t, "B")
	req.Len(got, 1)
	req.Equal(model.MessageTypeNewComment, got[0].Type)

	var payload model.NewCommentPayload
	req.NoError(got[0].DecodePayload(&payload))
	req.Equal("hi", payload.Comment.Content)
	req.Equal("srv-1", payload.Comment.ID)
	req.NotEqual(int64(42), payload.Comment.Timestamp)
	req.Equal(fixedNow.UnixMilli(), payload.Comment.Timestamp)
	req.Equal(model.CommentAnimationNone, payload.Comment.Style.Animation)

	// The sender is a room member too.
	req.Len(h.sender.received(t, "A"), 1)
}

func TestDispatcher_StampKeepsSuppliedID(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()
	req.NoError(h.dispatcher.OnConnect(ctx, "A"))

	send := func(id string) model.StampMessage {
		env, err := model.NewEnvelope(model.MessageTypeNewStamp, model.NewStampPayload{Stamp: model.StampMessage{
			ID:       id,
			Stamp:    model.Stamp{ID: "s1", Name: "clap", Category: model.StampCategoryReaction},
			Position: &model.Position{X: 10, Y: 20},
		}}, fixedNow)
		req.NoError(err)
		data, err := env.Marshal()
		req.NoError(err)
		req.NoError(h.dispatcher.OnMessage(ctx, "A", data))

		got := h.sender.received(t, "A")
		var payload model.NewStampPayload
		req.NoError(got[len(got)-1].DecodePayload(&payload))
		return payload.Stamp
	}

	kept := send("client-stamp")
	req.Equal("client-stamp", kept.ID)
	req.Equal(fixedNow.UnixMilli(), kept.Timestamp)
	req.Equal(&model.Position{X: 10, Y: 20}, kept.Position)

	assigned := send("")
	req.Equal("srv-1", assigned.ID)
}

func TestDispatcher_PingRepliesOnlyToSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.dispatcher.OnConnect(ctx, "A")
	_ = h.dispatcher.OnConnect(ctx, "B")

	if err := h.dispatcher.OnMessage(ctx, "A", []byte(`{"type":"ping","payload":{},"timestamp":1}`)); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	got := h.sender.received(t, "A")
	if len(got) != 1 || got[0].Type != model.MessageTypePong {
		t.Fatalf("expected a single pong, got %v", got)
	}
	if string(got[0].Payload) != `{}` {
		t.Errorf("expected empty pong payload, got %s", got[0].Payload)
	}
	if n := len(h.sender.received(t, "B")); n != 0 {
		t.Errorf("ping must not fan out, B received %d frames", n)
	}
}

func TestDispatcher_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  error
		wantCode string
	}{
		{"not json", `hello`, model.ErrMalformedEnvelope, model.ErrorCodeInvalidMessage},
		{"empty", ``, model.ErrMalformedEnvelope, model.ErrorCodeInvalidMessage},
		{"missing type", `{"payload":{}}`, model.ErrMalformedEnvelope, model.ErrorCodeInvalidMessage},
		{"missing payload", `{"type":"new_comment","timestamp":1}`, model.ErrMalformedEnvelope, model.ErrorCodeInvalidMessage},
		{"payload wrong shape", `{"type":"new_comment","payload":{"comment":"hi"}}`, model.ErrMalformedEnvelope, model.ErrorCodeInvalidMessage},
		{"blank content", `{"type":"new_comment","payload":{"comment":{"content":"   "}}}`, model.ErrInvalidPayload, model.ErrorCodeValidationFailed},
		{"bad size", `{"type":"new_comment","payload":{"comment":{"content":"hi","style":{"size":"huge"}}}}`, model.ErrInvalidPayload, model.ErrorCodeValidationFailed},
		{"stamp without category", `{"type":"new_stamp","payload":{"stamp":{"stamp":{"id":"s1","name":"clap"}}}}`, model.ErrInvalidPayload, model.ErrorCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			_ = h.dispatcher.OnConnect(ctx, "A")
			_ = h.dispatcher.OnConnect(ctx, "B")

			err := h.dispatcher.OnMessage(ctx, "A", []byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			got := h.sender.received(t, "A")
			if len(got) != 1 || got[0].Type != model.MessageTypeError {
				t.Fatalf("expected a single error reply, got %v", got)
			}
			var payload model.ErrorPayload
			if err := got[0].DecodePayload(&payload); err != nil {
				t.Fatalf("failed to decode error payload: %v", err)
			}
			if payload.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, payload.Code)
			}
			if n := len(h.sender.received(t, "B")); n != 0 {
				t.Errorf("bad input must not be broadcast, B received %d frames", n)
			}
		})
	}
}

func TestDispatcher_UnknownTypeIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.dispatcher.OnConnect(ctx, "A")

	for _, raw := range []string{
		`{"type":"typing","payload":{}}`,
		`{"type":"pong","payload":{}}`,
	} {
		if err := h.dispatcher.OnMessage(ctx, "A", []byte(raw)); err != nil {
			t.Errorf("OnMessage(%s) returned %v", raw, err)
		}
	}
	if n := len(h.sender.received(t, "A")); n != 0 {
		t.Errorf("expected no frames, got %d", n)
	}
}

func TestDispatcher_Route(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		msgType     model.MessageType
		wantHandler bool
		wantErr     error
	}{
		{msgType: model.MessageTypeNewComment, wantHandler: true},
		{msgType: model.MessageTypeNewStamp, wantHandler: true},
		{msgType: model.MessageTypePing, wantHandler: true},
		{msgType: model.MessageTypePong},
		{msgType: model.MessageTypeError},
		{msgType: "typing", wantErr: model.ErrUnknownMessageType},
		{msgType: "", wantErr: model.ErrUnknownMessageType},
	}

	for _, tt := range tests {
		t.Run(string(tt.msgType), func(t *testing.T) {
			handle, err := h.dispatcher.route(tt.msgType)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantHandler, handle != nil)
		})
	}
}

func TestDispatcher_UnknownTypeIsLogged(t *testing.T) {
	var logs bytes.Buffer
	store := mocks.NewMockStore(gomock.NewController(t))
	d := New(store, &countingFanout{}, newRecordingSender(), zerolog.New(&logs))

	require.NoError(t, d.OnMessage(context.Background(), "A", []byte(`{"type":"typing","payload":{}}`)))
	require.Contains(t, logs.String(), model.ErrUnknownMessageType.Error())
}

func TestDispatcher_StaleMemberIsCleanedUp(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	req.NoError(h.dispatcher.OnConnect(ctx, "A"))
	req.NoError(h.dispatcher.OnConnect(ctx, "B"))

	// A's transport is gone but its registry row was never removed.
	h.sender.gone["A"] = true

	req.NoError(h.dispatcher.OnMessage(ctx, "B", commentFrame(t, "", "still here?")))
	h.broadcaster.Wait()

	members, err := h.store.ListByRoom(ctx, model.DefaultRoomID)
	req.NoError(err)
	req.Equal([]string{"B"}, members)
	req.Len(h.sender.received(t, "B"), 1)
}

func TestDispatcher_ConnectDisconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	req.NoError(h.dispatcher.OnConnect(ctx, "A"))
	req.NoError(h.dispatcher.OnConnect(ctx, "B"))
	h.dispatcher.OnDisconnect(ctx, "A")
	h.dispatcher.OnDisconnect(ctx, "never-connected")

	members, err := h.store.ListByRoom(ctx, model.DefaultRoomID)
	req.NoError(err)
	sort.Strings(members)
	req.Equal([]string{"B"}, members)
}

func TestDispatcher_CustomRoom(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	d := New(store, &countingFanout{}, newRecordingSender(), zerolog.Nop(), WithRoom("stage"))

	store.EXPECT().Save(gomock.Any(), "A", "stage").Return(nil)
	if err := d.OnConnect(context.Background(), "A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Room() != "stage" {
		t.Errorf("expected room stage, got %s", d.Room())
	}
}

func TestDispatcher_StoreFailures(t *testing.T) {
	t.Run("connect fails closed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		d := New(store, &countingFanout{}, newRecordingSender(), zerolog.Nop())

		store.EXPECT().Save(gomock.Any(), "A", model.DefaultRoomID).Return(model.ErrStoreUnavailable)

		err := d.OnConnect(context.Background(), "A")
		if !errors.Is(err, model.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	})

	t.Run("disconnect swallows", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		d := New(store, &countingFanout{}, newRecordingSender(), zerolog.Nop())

		store.EXPECT().Remove(gomock.Any(), "A", model.DefaultRoomID).Return(model.ErrStoreUnavailable)
		d.OnDisconnect(context.Background(), "A")
	})

	t.Run("list failure aborts broadcast", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		fanout := &countingFanout{}
		sender := newRecordingSender()
		d := New(store, fanout, sender, zerolog.Nop())

		store.EXPECT().ListByRoom(gomock.Any(), model.DefaultRoomID).Return(nil, model.ErrStoreUnavailable)

		err := d.OnMessage(context.Background(), "A", commentFrame(t, "", "hi"))
		if !errors.Is(err, model.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if fanout.calls != 0 {
			t.Errorf("expected no broadcast, got %d", fanout.calls)
		}

		got := sender.received(t, "A")
		if len(got) != 1 {
			t.Fatalf("expected an error reply, got %d frames", len(got))
		}
		var payload model.ErrorPayload
		_ = got[0].DecodePayload(&payload)
		if payload.Code != model.ErrorCodeInternal {
			t.Errorf("expected internal_error, got %s", payload.Code)
		}
	})
}
