package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDueLister struct {
	ids []string
	err error
}

func (f *fakeDueLister) DueScheduled(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return f.ids, f.err
}

type recordingDispatcher struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (d *recordingDispatcher) Run(_ context.Context, campaignID string) error {
	d.mu.Lock()
	d.runs = append(d.runs, campaignID)
	d.mu.Unlock()
	return d.err
}

func pollerWithRedis(t *testing.T, lister DueLister, dispatcher Dispatcher) (*Poller, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewPoller(lister, dispatcher, client, nil), client
}

func TestTickDispatchesEachDueCampaign(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	poller, _ := pollerWithRedis(t, &fakeDueLister{ids: []string{"camp-1", "camp-2"}}, dispatcher)

	poller.tick(context.Background())

	assert.Equal(t, []string{"camp-1", "camp-2"}, dispatcher.runs)
}

func TestTickSkipsLockedCampaign(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	poller, client := pollerWithRedis(t, &fakeDueLister{ids: []string{"camp-1"}}, dispatcher)

	// Another worker holds the lock.
	require.NoError(t, client.Set(context.Background(), "lock:dispatch:camp-1", "other-worker", time.Minute).Err())

	poller.tick(context.Background())

	assert.Empty(t, dispatcher.runs)
}

func TestTickReleasesLockAfterDispatch(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	poller, client := pollerWithRedis(t, &fakeDueLister{ids: []string{"camp-1"}}, dispatcher)

	poller.tick(context.Background())
	require.Len(t, dispatcher.runs, 1)

	// Lock is gone, a later tick can dispatch again.
	n, err := client.Exists(context.Background(), "lock:dispatch:camp-1").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTickDispatchErrorDoesNotStopOthers(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("provider down")}
	poller, _ := pollerWithRedis(t, &fakeDueLister{ids: []string{"camp-1", "camp-2"}}, dispatcher)

	poller.tick(context.Background())

	assert.Equal(t, []string{"camp-1", "camp-2"}, dispatcher.runs)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	poller, _ := pollerWithRedis(t, &fakeDueLister{}, dispatcher)
	poller.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancel")
	}
}
