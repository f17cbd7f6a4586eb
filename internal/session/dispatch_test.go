package session

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherReentrantPushKeepsOrder(t *testing.T) {
	var d dispatcher
	var delivered []uint64

	var deliver func(event)
	deliver = func(ev event) {
		delivered = append(delivered, ev.epoch)
		if ev.epoch == 1 {
			// nested producer: only enqueues, the outer drain delivers
			d.push(event{epoch: 3})
			d.drain(deliver)
		}
	}

	d.push(event{epoch: 1})
	d.push(event{epoch: 2})
	d.drain(deliver)

	assert.Equal(t, []uint64{1, 2, 3}, delivered)
}

func TestDispatcherSyncDrainFromListenerOnlyEnqueues(t *testing.T) {
	var d dispatcher
	var delivered []uint64

	var deliver func(event)
	deliver = func(ev event) {
		delivered = append(delivered, ev.epoch)
		if ev.epoch == 1 {
			d.push(event{epoch: 3})
			d.drainSync(deliver)
			assert.Equal(t, []uint64{1}, delivered)
		}
	}

	d.push(event{epoch: 1})
	d.push(event{epoch: 2})
	d.drainSync(deliver)

	assert.Equal(t, []uint64{1, 2, 3}, delivered)
}

func TestDispatcherSyncDrainWaitsForActiveDrainer(t *testing.T) {
	var d dispatcher
	var mu sync.Mutex
	var delivered []uint64
	entered := make(chan struct{})
	release := make(chan struct{})

	deliver := func(ev event) {
		if ev.epoch == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		delivered = append(delivered, ev.epoch)
		mu.Unlock()
	}

	d.push(event{epoch: 1})
	go d.drain(deliver)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("drainer did not start")
	}

	d.push(event{epoch: 2})
	returned := make(chan struct{})
	go func() {
		d.drainSync(deliver)
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("drainSync returned before its event was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("drainSync did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, delivered)
}

func TestListenerListUnsubscribeDuringEmit(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var l listenerList[int]
	var got []string

	var removeSecond func()
	l.add(func(int) {
		got = append(got, "first")
		removeSecond()
	})
	removeSecond = l.add(func(int) { got = append(got, "second") })
	l.add(func(int) { panic("bad listener") })
	l.add(func(int) { got = append(got, "fourth") })

	l.emit(logger, "test", 1)

	assert.Equal(t, []string{"first", "fourth"}, got)
	assert.Equal(t, 3, l.len())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	removeSecond()
	assert.Equal(t, 3, l.len(), "unsubscribe is idempotent")
}

func TestBuildChannelTable(t *testing.T) {
	noop := func([]byte) ([]float64, error) { return nil, nil }
	const flex = "beb5483e-36e1-4688-b7f5-ea07361b26ac"

	tests := []struct {
		name    string
		specs   []CharacteristicSpec
		wantErr string
		groups  int
	}{
		{name: "single", specs: []CharacteristicSpec{{UUID: flex, Channel: "flex", Decode: noop}}, groups: 1},
		{
			name: "shared uuid groups",
			specs: []CharacteristicSpec{
				{UUID: flex, Channel: "flex", Decode: noop},
				{UUID: "BEB5483E36E14688B7F5EA07361B26AC", Channel: "thumb", Decode: noop},
			},
			groups: 1,
		},
		{name: "empty", wantErr: "config: at least one characteristic is required"},
		{
			name: "duplicate channels",
			specs: []CharacteristicSpec{
				{UUID: flex, Channel: "flex", Decode: noop},
				{UUID: "180f", Channel: "flex", Decode: noop},
			},
			wantErr: "config: duplicate channel names: flex",
		},
		{name: "missing uuid", specs: []CharacteristicSpec{{Channel: "flex", Decode: noop}}, wantErr: `config: channel "flex": UUID at index 0 cannot be empty`},
		{name: "short uuid", specs: []CharacteristicSpec{{UUID: "beb5", Channel: "flex", Decode: noop}}, groups: 1},
		{name: "garbage uuid", specs: []CharacteristicSpec{{UUID: "flex-uuid", Channel: "flex", Decode: noop}}, wantErr: `config: channel "flex": invalid UUID format at index 0: flex-uuid`},
		{name: "no decoder", specs: []CharacteristicSpec{{UUID: flex, Channel: "flex"}}, wantErr: `config: channel "flex" has no decoder`},
		{name: "no channel", specs: []CharacteristicSpec{{UUID: flex, Decode: noop}}, wantErr: "config: characteristic 0 has no channel name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := buildChannelTable(tt.specs)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.groups, table.Len())
		})
	}
}

func TestConfigureRejectsWhileBusy(t *testing.T) {
	s := New(nil)
	noop := func([]byte) ([]float64, error) { return nil, nil }
	specs := []CharacteristicSpec{{UUID: "180f", Channel: "battery", Decode: noop}}

	assert.ErrorIs(t, s.Configure("not a uuid", specs), ErrConfig)
	require.NoError(t, s.Configure("180f", specs))

	s.mu.Lock()
	s.state = State{Kind: StateConnected}
	s.mu.Unlock()
	err := s.Configure("180f", specs)
	assert.EqualError(t, err, "config: cannot configure while connected")
}
