package host

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrunette/dataq/dataservice"
)

// nullService satisfies the Service interface without behavior; the
// binding never calls into it.
type nullService struct {
	dataservice.Service
}

type countingListener struct {
	available   int
	unavailable int
}

func (l *countingListener) ServiceAvailable()   { l.available++ }
func (l *countingListener) ServiceUnavailable() { l.unavailable++ }

func TestSetServiceFiresListeners(t *testing.T) {
	b := New("default")
	l := &countingListener{}
	b.RegisterConnectionListener(l)

	b.SetService(nil)
	assert.Equal(t, 1, l.unavailable)

	b.SetService(&nullService{})
	assert.Equal(t, 1, l.available)
	assert.NotNil(t, b.Service())
}

func TestUnregisteredListenerStopsReceiving(t *testing.T) {
	b := New("default")
	kept := &countingListener{}
	dropped := &countingListener{}
	b.RegisterConnectionListener(kept)
	b.RegisterConnectionListener(dropped)

	b.UnregisterConnectionListener(dropped)
	b.SetService(&nullService{})
	b.SetService(nil)

	assert.Equal(t, 1, kept.available)
	assert.Equal(t, 1, kept.unavailable)
	assert.Zero(t, dropped.available)
	assert.Zero(t, dropped.unavailable)

	// unregistering an unknown listener is a no-op
	b.UnregisterConnectionListener(&countingListener{})
}

func TestDeliverRoutesByCaller(t *testing.T) {
	b := New("default")
	b.Deliver(`{"callback":"a"}`, "view-1")
	b.Deliver(`{"callback":"b"}`, "view-2")

	select {
	case got := <-b.Responses("view-1"):
		assert.Equal(t, `{"callback":"a"}`, got)
	case <-time.After(time.Second):
		t.Fatal("no response for view-1")
	}
	select {
	case got := <-b.Responses("view-2"):
		assert.Equal(t, `{"callback":"b"}`, got)
	case <-time.After(time.Second):
		t.Fatal("no response for view-2")
	}
}

func TestDeliverDropsOldestWhenInboxFull(t *testing.T) {
	b := New("default")
	for i := 0; i <= responseBuffer; i++ {
		b.Deliver(strconv.Itoa(i), "view-1")
	}
	// the first response was dropped to admit the newest
	got := <-b.Responses("view-1")
	assert.Equal(t, "1", got)

	drained := 1
	for {
		select {
		case <-b.Responses("view-1"):
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, responseBuffer, drained)
}

func TestViewQueryRegistry(t *testing.T) {
	b := New("default")
	require.Nil(t, b.ViewQuery("view-1"))

	q := dataservice.SimpleViewQuery{TableID: "gear"}
	b.SetViewQuery("view-1", q)
	assert.Equal(t, q, b.ViewQuery("view-1"))

	b.SetViewQuery("view-1", nil)
	assert.Nil(t, b.ViewQuery("view-1"))
}

func TestCloseViewDropsState(t *testing.T) {
	b := New("default")
	b.Deliver("x", "view-1")
	b.SetViewQuery("view-1", dataservice.SimpleViewQuery{TableID: "gear"})

	b.CloseView("view-1")
	assert.Nil(t, b.ViewQuery("view-1"))
	select {
	case <-b.Responses("view-1"):
		t.Fatal("inbox survived CloseView")
	default:
	}
}
