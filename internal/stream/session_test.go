package stream_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
	"github.com/yungbote/branchchat-backend/internal/client"
	"github.com/yungbote/branchchat-backend/internal/stream"
)

type createReply struct {
	id  string
	err error
}

type createCall struct {
	req   stream.CreateRequest
	reply chan createReply
}

type editCall struct {
	id      string
	content string
}

// stubRemote records every call. With manual set, creates block until the test replies.
type stubRemote struct {
	manual  bool
	creates chan *createCall

	mu         sync.Mutex
	seq        int
	createErr  error
	editErr    error
	deleteErrs int
	createReqs []stream.CreateRequest
	edits      []editCall
	deletes    []string
}

func newStubRemote(manual bool) *stubRemote {
	return &stubRemote{manual: manual, creates: make(chan *createCall, 8)}
}

func (r *stubRemote) CreateMessage(ctx context.Context, req stream.CreateRequest) (stream.CreateResult, error) {
	r.mu.Lock()
	r.createReqs = append(r.createReqs, req)
	r.seq++
	id := fmt.Sprintf("srv-%d", r.seq)
	err := r.createErr
	r.mu.Unlock()

	if r.manual {
		call := &createCall{req: req, reply: make(chan createReply, 1)}
		r.creates <- call
		rep := <-call.reply
		id, err = rep.id, rep.err
	}
	if err != nil {
		return stream.CreateResult{}, err
	}
	return stream.CreateResult{ID: id, CreatedAt: time.Now()}, nil
}

func (r *stubRemote) EditMessage(ctx context.Context, nodeID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, editCall{id: nodeID, content: content})
	return r.editErr
}

func (r *stubRemote) DeleteMessage(ctx context.Context, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, nodeID)
	if r.deleteErrs > 0 {
		r.deleteErrs--
		return errors.New("connection reset")
	}
	return nil
}

func (r *stubRemote) calls() ([]editCall, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]editCall(nil), r.edits...), append([]string(nil), r.deletes...)
}

// next returns the next pending create call.
func (r *stubRemote) next(t *testing.T) *createCall {
	t.Helper()
	select {
	case c := <-r.creates:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no create call issued")
		return nil
	}
}

type staticSpeakers []stream.Speaker

func (s staticSpeakers) Speakers(ctx context.Context) ([]stream.Speaker, error) { return s, nil }

var speakers = staticSpeakers{
	{ID: "user", Name: "You", IsUser: true},
	{ID: "bot", Name: "Aria"},
}

var botOpts = stream.StartOptions{SpeakerID: "bot"}

type machineFixture struct {
	m      *stream.Machine
	remote *stubRemote
	mirror *client.Mirror
}

func newMachineFixture(t *testing.T, manual bool) *machineFixture {
	t.Helper()
	return newMachineFixtureWith(t, manual, nil)
}

func newMachineFixtureWith(t *testing.T, manual bool, norm stream.Normalizer) *machineFixture {
	t.Helper()
	mirror := client.NewMirror()
	require.NoError(t, mirror.AddMessage(tree.Node{ID: "r", SpeakerID: "user", Message: "hi", CreatedAt: time.Unix(1, 0)}))
	remote := newStubRemote(manual)
	n := 0
	m := stream.NewMachine(stream.Config{
		Remote:     remote,
		Mirror:     mirror,
		Speakers:   speakers,
		Buffer:     stream.NewBuffer(stream.ImmediateScheduler{}),
		Normalizer: norm,
		NewID: func() string {
			n++
			return fmt.Sprintf("client-%d", n)
		},
	})
	return &machineFixture{m: m, remote: remote, mirror: mirror}
}

func TestFinalizeEditsExactlyOnce(t *testing.T) {
	f := newMachineFixture(t, false)
	ctx := context.Background()

	info, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	require.Equal(t, stream.StateStreaming, f.m.State())
	require.Equal(t, "r", info.ParentID)
	require.True(t, info.IsBot)
	require.True(t, f.mirror.IsPlaceholder(info.ClientID), "placeholder visible immediately")

	f.m.Append("hel")
	f.m.Append("lo")
	res, err := f.m.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", res.Content)
	require.Equal(t, stream.StateIdle, f.m.State())
	f.m.Wait()

	edits, deletes := f.remote.calls()
	require.Equal(t, []editCall{{id: res.NodeID, content: "hello"}}, edits)
	require.Empty(t, deletes)

	n, ok := f.mirror.Get(res.NodeID)
	require.True(t, ok)
	require.Equal(t, "hello", n.Message)
	require.Equal(t, []string{"r", res.NodeID}, f.mirror.ActivePath())
	require.True(t, f.m.Buffer().Stopped())
}

func TestFinalizeEmptyBehavesLikeCancel(t *testing.T) {
	f := newMachineFixture(t, false)
	ctx := context.Background()

	_, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	f.m.Append("   ")
	_, err = f.m.Finalize(ctx)
	require.ErrorIs(t, err, stream.ErrEmptyMessage)
	require.Equal(t, stream.StateIdle, f.m.State())
	f.m.Wait()

	edits, deletes := f.remote.calls()
	require.Empty(t, edits)
	require.Equal(t, []string{"srv-1"}, deletes)
	require.Equal(t, "r", f.mirror.Tail())
}

func TestCancelBeforeCreateResolvesDeletesPlaceholder(t *testing.T) {
	f := newMachineFixture(t, true)
	ctx := context.Background()

	info, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	call := f.remote.next(t)
	require.Equal(t, info.ClientID, call.req.ClientID)
	require.Equal(t, "", call.req.Content, "placeholder is created empty")

	f.m.Append("partial")
	require.NoError(t, f.m.Cancel())
	require.Equal(t, stream.StateIdle, f.m.State(), "cancel completes locally before the network")
	require.False(t, f.mirror.Has(info.ClientID))
	_, deletes := f.remote.calls()
	require.Empty(t, deletes)

	call.reply <- createReply{id: "srv-late"}
	f.m.Wait()
	edits, deletes := f.remote.calls()
	require.Empty(t, edits)
	require.Equal(t, []string{"srv-late"}, deletes)
	require.False(t, f.mirror.Has("srv-late"))
}

func TestStartCancelsStreamingSessionAndKeepsCleanupSeparate(t *testing.T) {
	f := newMachineFixture(t, true)
	ctx := context.Background()

	a, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	callA := f.remote.next(t)

	b, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	require.NotEqual(t, a.ClientID, b.ClientID)
	require.Equal(t, "r", b.ParentID, "cancelled placeholder is not the new parent")
	callB := f.remote.next(t)

	f.m.Append("bye")
	callA.reply <- createReply{id: "srv-a"}
	callB.reply <- createReply{id: "srv-b"}
	res, err := f.m.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, "srv-b", res.NodeID)
	f.m.Wait()

	edits, deletes := f.remote.calls()
	require.Equal(t, []editCall{{id: "srv-b", content: "bye"}}, edits)
	require.Equal(t, []string{"srv-a"}, deletes, "only the first session's node is deleted")
}

func TestCancellingSecondSessionSparesFinalizingFirst(t *testing.T) {
	f := newMachineFixture(t, true)
	ctx := context.Background()

	a, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	callA := f.remote.next(t)
	f.m.Append("first reply")

	type outcome struct {
		res stream.FinalizeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.m.Finalize(ctx)
		done <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return f.m.State() == stream.StateFinalizing }, time.Second, time.Millisecond)

	b, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	require.Equal(t, a.ClientID, b.ParentID, "new session continues from the finalizing placeholder")
	require.NoError(t, f.m.Cancel())

	callA.reply <- createReply{id: "srv-a"}
	out := <-done
	require.NoError(t, out.err)
	require.Equal(t, "srv-a", out.res.NodeID)

	callB := f.remote.next(t)
	require.Equal(t, "srv-a", callB.req.ParentID, "child create waits for the parent's server id")
	callB.reply <- createReply{id: "srv-b"}
	f.m.Wait()

	edits, deletes := f.remote.calls()
	require.Equal(t, []editCall{{id: "srv-a", content: "first reply"}}, edits)
	require.Equal(t, []string{"srv-b"}, deletes)
	require.Equal(t, []string{"r", "srv-a"}, f.mirror.ActivePath())
}

func TestFailedCreateAbortsSession(t *testing.T) {
	f := newMachineFixture(t, false)
	f.remote.createErr = errors.New("503")

	info, err := f.m.Start(context.Background(), botOpts)
	require.NoError(t, err)
	f.m.Wait()

	require.Equal(t, stream.StateIdle, f.m.State())
	require.False(t, f.mirror.Has(info.ClientID))
	_, err = f.m.Finalize(context.Background())
	require.ErrorIs(t, err, stream.ErrNoSession)
	_, deletes := f.remote.calls()
	require.Empty(t, deletes)
}

func TestFinalizeNetworkFailureKeepsPlaceholder(t *testing.T) {
	f := newMachineFixture(t, false)
	f.remote.editErr = errors.New("timeout")
	ctx := context.Background()

	info, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	f.m.Append("keep me")
	_, err = f.m.Finalize(ctx)
	require.Error(t, err)
	require.Equal(t, stream.StateIdle, f.m.State(), "never stuck after a failed finalize")
	f.m.Wait()

	n, ok := f.mirror.Get(info.ClientID)
	require.True(t, ok)
	require.Equal(t, "keep me", n.Message)
	_, deletes := f.remote.calls()
	require.Empty(t, deletes)
}

func TestCancelDeleteRetriesExactlyOnce(t *testing.T) {
	for _, tc := range []struct {
		name     string
		failures int
		attempts int
	}{
		{"recovers on retry", 1, 2},
		{"gives up after retry", 5, 2},
		{"first try", 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newMachineFixture(t, false)
			f.remote.deleteErrs = tc.failures
			_, err := f.m.Start(context.Background(), botOpts)
			require.NoError(t, err)
			require.NoError(t, f.m.Cancel())
			f.m.Wait()
			_, deletes := f.remote.calls()
			require.Len(t, deletes, tc.attempts)
			for _, id := range deletes {
				require.Equal(t, "srv-1", id)
			}
		})
	}
}

func TestStartResolutionFailuresHaveNoSideEffects(t *testing.T) {
	f := newMachineFixture(t, false)
	ctx := context.Background()
	f.m.Buffer().SetContent("previous")

	_, err := f.m.Start(ctx, stream.StartOptions{SpeakerID: "ghost"})
	require.ErrorIs(t, err, stream.ErrUnresolvedSpeaker)
	_, err = f.m.Start(ctx, stream.StartOptions{SpeakerID: "bot", ParentID: "missing"})
	require.ErrorIs(t, err, stream.ErrUnresolvedParent)
	_, err = f.m.Start(ctx, stream.StartOptions{})
	require.ErrorIs(t, err, stream.ErrUnresolvedSpeaker)

	require.Equal(t, stream.StateIdle, f.m.State())
	require.Equal(t, "previous", f.m.Buffer().Text())
	require.Equal(t, 1, f.mirror.Len())
	f.m.Wait()
	f.remote.mu.Lock()
	require.Empty(t, f.remote.createReqs)
	f.remote.mu.Unlock()
}

func TestStartResolvesSpeakerByUserFlag(t *testing.T) {
	f := newMachineFixture(t, false)
	isUser := true
	info, err := f.m.Start(context.Background(), stream.StartOptions{IsUser: &isUser})
	require.NoError(t, err)
	require.Equal(t, "user", info.SpeakerID)
	require.False(t, info.IsBot)
	require.NoError(t, f.m.Cancel())
	f.m.Wait()
}

func TestAppendWhileIdleIsIgnored(t *testing.T) {
	f := newMachineFixture(t, false)
	f.m.Append("stray")
	f.m.SetContent("stray")
	require.Equal(t, "", f.m.Buffer().Text())
	require.ErrorIs(t, f.m.Cancel(), stream.ErrNoSession)
	require.Equal(t, "idle", f.m.State().String())
}

func TestResetFrameDoesNotHoldMachineLock(t *testing.T) {
	f := newMachineFixture(t, false)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []stream.State
	unsub := f.m.Buffer().Subscribe(func(version uint64, text string) {
		st := f.m.State()
		f.m.Current()
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})
	defer unsub()

	done := make(chan error, 1)
	go func() {
		if _, err := f.m.Start(ctx, botOpts); err != nil {
			done <- err
			return
		}
		f.m.Append("one")
		_, err := f.m.Start(ctx, botOpts)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start blocked while a subscriber read machine state")
	}
	require.NoError(t, f.m.Cancel())
	f.m.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []stream.State{stream.StateStreaming, stream.StateStreaming, stream.StateStreaming}, seen)
}

func TestStartDuringEmptyFinalizeKeepsItsPlaceholder(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	norm := stream.NormalizerFunc(func(string) string {
		once.Do(func() {
			close(entered)
			<-release
		})
		return ""
	})
	f := newMachineFixtureWith(t, true, norm)
	ctx := context.Background()

	a, err := f.m.Start(ctx, botOpts)
	require.NoError(t, err)
	f.remote.next(t).reply <- createReply{id: "srv-a"}
	f.m.Append("   ")

	finalized := make(chan error, 1)
	go func() {
		_, err := f.m.Finalize(ctx)
		finalized <- err
	}()
	<-entered

	type started struct {
		info stream.SessionInfo
		err  error
	}
	startDone := make(chan started, 1)
	go func() {
		info, err := f.m.Start(ctx, botOpts)
		startDone <- started{info, err}
	}()
	select {
	case <-startDone:
		t.Fatal("start completed before finalize decided")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.ErrorIs(t, <-finalized, stream.ErrEmptyMessage)
	var b started
	select {
	case b = <-startDone:
	case <-time.After(2 * time.Second):
		t.Fatal("start never ran after finalize")
	}
	require.NoError(t, b.err)
	require.Equal(t, "r", b.info.ParentID, "discarded placeholder is not the new parent")
	require.NotEqual(t, a.ClientID, b.info.ClientID)
	require.Equal(t, stream.StateStreaming, f.m.State())
	cur, ok := f.m.Current()
	require.True(t, ok)
	require.Equal(t, b.info.ClientID, cur.ClientID)

	call := f.remote.next(t)
	require.Equal(t, "r", call.req.ParentID)
	call.reply <- createReply{id: "srv-b"}
	f.m.Wait()

	_, deletes := f.remote.calls()
	require.Equal(t, []string{"srv-a"}, deletes)
	require.True(t, f.mirror.Has("srv-b"))
	require.False(t, f.mirror.Has("srv-a"))
}
