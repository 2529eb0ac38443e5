package claude

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingResolveDeliversOnce(t *testing.T) {
	table := newPendingTable()
	p, err := table.insert("req_1", ControlInterrupt)
	require.NoError(t, err)
	assert.Equal(t, 1, table.len())

	assert.True(t, table.resolve("req_1", map[string]any{"ok": true}, nil))
	<-p.done
	assert.Equal(t, map[string]any{"ok": true}, p.response)
	assert.NoError(t, p.err)
	assert.Zero(t, table.len())

	assert.False(t, table.resolve("req_1", map[string]any{"ok": false}, nil))
	assert.Equal(t, true, p.response["ok"])
}

func TestPendingRejectsDuplicateID(t *testing.T) {
	table := newPendingTable()
	_, err := table.insert("req_1", ControlSetModel)
	require.NoError(t, err)

	_, err = table.insert("req_1", ControlSetModel)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestPendingRemoveThenResolveIsIgnored(t *testing.T) {
	table := newPendingTable()
	p, err := table.insert("req_1", ControlSetModel)
	require.NoError(t, err)

	table.remove("req_1")
	assert.False(t, table.resolve("req_1", nil, nil))
	select {
	case <-p.done:
		t.Fatal("removed entry must not be completed")
	default:
	}
}

func TestPendingFailAllReleasesEveryWaiterAndRejectsInserts(t *testing.T) {
	table := newPendingTable()
	var waiters []*pendingRequest
	for _, id := range []string{"a", "b", "c"} {
		p, err := table.insert(id, ControlInterrupt)
		require.NoError(t, err)
		waiters = append(waiters, p)
	}

	cause := newTransportClosedError(errors.New("eof"))
	assert.Equal(t, 3, table.failAll(cause))
	for _, p := range waiters {
		<-p.done
		assert.ErrorIs(t, p.err, ErrTransportClosed)
	}

	_, err := table.insert("d", ControlInterrupt)
	assert.ErrorIs(t, err, ErrTransportClosed)

	// The first cause sticks.
	assert.Zero(t, table.failAll(errors.New("second")))
	_, err = table.insert("e", ControlInterrupt)
	assert.Same(t, cause, err)
}

func TestPendingConcurrentResolveAndFail(t *testing.T) {
	table := newPendingTable()
	const n = 200
	reqs := make([]*pendingRequest, n)
	for i := range n {
		p, err := table.insert(fmt.Sprintf("req_%d", i), ControlInterrupt)
		require.NoError(t, err)
		reqs[i] = p
	}

	var wg sync.WaitGroup
	for _, p := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.resolve(p.id, map[string]any{}, nil)
		}()
	}
	table.failAll(newTransportClosedError(nil))
	wg.Wait()

	for _, p := range reqs {
		<-p.done
		if p.err == nil {
			assert.NotNil(t, p.response)
		} else {
			assert.ErrorIs(t, p.err, ErrTransportClosed)
		}
	}
}
