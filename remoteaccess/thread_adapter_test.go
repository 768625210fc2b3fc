package remoteaccess_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asyncexec/objdict"
	"github.com/joeycumines/go-asyncexec/remoteaccess"
)

type recordingClient struct {
	mu          sync.Mutex
	readyCh     chan struct{}
	processedCh chan *remoteaccess.Response
	disconnects int
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		readyCh:     make(chan struct{}, 1),
		processedCh: make(chan *remoteaccess.Response, 16),
	}
}

func (c *recordingClient) OnReady(int, int) {
	select {
	case c.readyCh <- struct{}{}:
	default:
	}
}

func (c *recordingClient) OnDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *recordingClient) OnRequestProcessed(resp *remoteaccess.Response) {
	c.processedCh <- resp
}

func (c *recordingClient) LoanExecutionContext() {}

func TestThreadAdapter_PingRoundTrip(t *testing.T) {
	od := objdict.NewMemory()
	adapter, err := remoteaccess.NewThreadAdapter(od, remoteaccess.WithThreadName("test-thread"))
	require.NoError(t, err)
	require.NoError(t, adapter.Start())
	defer adapter.Stop()

	client := newRecordingClient()
	require.NoError(t, adapter.Register(client))

	select {
	case <-client.readyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReady was not delivered")
	}

	require.NoError(t, adapter.Send(&remoteaccess.Request{Kind: remoteaccess.RequestPing}))

	select {
	case resp := <-client.processedCh:
		assert.Equal(t, remoteaccess.ResponsePing, resp.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("response was not delivered")
	}
}

func TestThreadAdapter_StopNotifiesDisconnected(t *testing.T) {
	od := objdict.NewMemory()
	adapter, err := remoteaccess.NewThreadAdapter(od)
	require.NoError(t, err)
	require.NoError(t, adapter.Start())

	client := newRecordingClient()
	require.NoError(t, adapter.Register(client))
	<-client.readyCh

	adapter.Stop()

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 1, client.disconnects)
}

func TestThreadAdapter_RegisterBeforeStart(t *testing.T) {
	od := objdict.NewMemory()
	adapter, err := remoteaccess.NewThreadAdapter(od)
	require.NoError(t, err)

	client := newRecordingClient()
	require.NoError(t, adapter.Register(client))

	require.NoError(t, adapter.Start())
	defer adapter.Stop()

	select {
	case <-client.readyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReady was not delivered after start")
	}
}
