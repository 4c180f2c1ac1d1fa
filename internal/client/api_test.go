package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/branchchat-backend/internal/chat/cache"
	bchttp "github.com/yungbote/branchchat-backend/internal/http"
	httpH "github.com/yungbote/branchchat-backend/internal/http/handlers"
	"github.com/yungbote/branchchat-backend/internal/data/repos"
	"github.com/yungbote/branchchat-backend/internal/data/repos/testutil"
	apperrors "github.com/yungbote/branchchat-backend/internal/pkg/errors"
	"github.com/yungbote/branchchat-backend/internal/services"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

type apiFixture struct {
	api     *API
	chatID  string
	speaker string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	meta := cache.NewMetaCache()
	notify := services.NewChatNotifier(nil)
	chats := services.NewChatTreeService(db, log,
		repos.NewChatRepo(db, log), repos.NewChatNodeRepo(db, log), repos.NewSpeakerRepo(db, log),
		cache.NewChatCache(4), notify)
	speakers := services.NewSpeakerService(db, log, repos.NewSpeakerRepo(db, log), meta, notify)

	r := bchttp.NewRouter(bchttp.RouterConfig{
		Log:            log,
		ChatHandler:    httpH.NewChatHandler(chats),
		SpeakerHandler: httpH.NewSpeakerHandler(speakers),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	sp := testutil.SeedSpeaker(t, ctx, db, "Aria", false)
	testutil.SeedSpeaker(t, ctx, db, "You", true)
	chat := testutil.SeedChat(t, ctx, db, "story", sp.ID)
	return &apiFixture{
		api:     NewAPI(srv.URL, "", srv.Client(), log),
		chatID:  chat.ID.String(),
		speaker: sp.ID.String(),
	}
}

func TestChatClientMessageLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	cc := f.api.Chat(f.chatID)

	root, err := cc.CreateMessage(ctx, stream.CreateRequest{Content: "hello", SpeakerID: f.speaker})
	require.NoError(t, err)
	require.NotEmpty(t, root.ID)
	require.False(t, root.CreatedAt.IsZero())

	clientID := uuid.NewString()
	reply, err := cc.CreateMessage(ctx, stream.CreateRequest{
		ParentID: root.ID, SpeakerID: f.speaker, IsBot: true,
		ClientID: clientID, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, cc.EditMessage(ctx, reply.ID, "streamed reply"))

	view, err := f.api.GetChat(ctx, f.chatID)
	require.NoError(t, err)
	require.Equal(t, reply.ID, view.TailID)
	require.Equal(t, []string{root.ID, reply.ID}, view.ActivePath)

	m := NewMirror()
	_, err = m.Load(view.Nodes)
	require.NoError(t, err)
	n, ok := m.Get(clientID)
	require.True(t, ok, "client id resolves after load")
	require.Equal(t, "streamed reply", n.Message)

	alt, err := cc.CreateMessage(ctx, stream.CreateRequest{ParentID: root.ID, SpeakerID: f.speaker, IsBot: true})
	require.NoError(t, err)
	require.NoError(t, cc.SwitchBranch(ctx, reply.ID))
	require.NoError(t, cc.DeleteMessage(ctx, alt.ID))

	view, err = f.api.GetChat(ctx, f.chatID)
	require.NoError(t, err)
	require.Len(t, view.Nodes, 2)
	require.Equal(t, reply.ID, view.TailID)
}

func TestAPIErrorsMapOntoTaxonomy(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	cc := f.api.Chat(f.chatID)

	_, err := cc.CreateMessage(ctx, stream.CreateRequest{Content: "hello", SpeakerID: f.speaker})
	require.NoError(t, err)

	_, err = cc.CreateMessage(ctx, stream.CreateRequest{Content: "again", SpeakerID: f.speaker})
	require.True(t, apperrors.IsConflict(err), "second root: %v", err)

	err = cc.EditMessage(ctx, uuid.NewString(), "x")
	require.True(t, apperrors.IsNotFound(err), "missing node: %v", err)

	_, err = cc.CreateMessage(ctx, stream.CreateRequest{Content: "x", SpeakerID: f.speaker, ClientID: "not-a-uuid"})
	require.True(t, apperrors.IsValidation(err), "bad client id: %v", err)

	_, err = f.api.GetChat(ctx, uuid.NewString())
	require.True(t, apperrors.IsNotFound(err))
}

func TestStatusErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"db down","code":"transient"}}`))
	}))
	defer srv.Close()

	err := NewAPI(srv.URL, "tok", srv.Client(), nil).Chat("c").DeleteMessage(context.Background(), "n")
	require.True(t, apperrors.IsTransient(err))
	require.Contains(t, err.Error(), "db down")
}

func TestSpeakersDirectory(t *testing.T) {
	f := newAPIFixture(t)
	all, err := f.api.Chat(f.chatID).Speakers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Aria", all[0].Name)
	require.True(t, all[1].IsUser)
}

func TestReadsRetryTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"speakers":[{"id":"s1","name":"Aria"}]}`))
	}))
	defer srv.Close()

	all, err := NewAPI(srv.URL, "", srv.Client(), nil).Speakers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int32(2), calls.Load())
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewAPI(srv.URL, "", srv.Client(), nil).Chat("c").EditMessage(context.Background(), "n", "x")
	require.True(t, apperrors.IsTransient(err))
	require.Equal(t, int32(1), calls.Load())
}
