package component

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name    string
	initErr error
	startErr error
	stopErr error

	events *[]string
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "service"}
}

func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: true, LastCheck: time.Now()}
}

func (f *fakeComponent) DataFlow() FlowMetrics {
	return FlowMetrics{}
}

func (f *fakeComponent) Initialize() error {
	*f.events = append(*f.events, "init:"+f.name)
	return f.initErr
}

func (f *fakeComponent) Start(_ context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	return f.startErr
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	*f.events = append(*f.events, "stop:"+f.name)
	return f.stopErr
}

var _ LifecycleComponent = (*fakeComponent)(nil)

func TestManagerStartOrderStopReverse(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Add(&fakeComponent{name: "a", events: &events})
	m.Add(&fakeComponent{name: "b", events: &events})
	m.Add(&fakeComponent{name: "c", events: &events})

	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll(time.Second))

	assert.Equal(t, []string{
		"init:a", "start:a",
		"init:b", "start:b",
		"init:c", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, events)
}

func TestManagerStartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Add(&fakeComponent{name: "a", events: &events})
	m.Add(&fakeComponent{name: "b", startErr: fmt.Errorf("bind failed"), events: &events})
	m.Add(&fakeComponent{name: "c", events: &events})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")

	// c never ran; a was rolled back.
	assert.Equal(t, []string{"init:a", "start:a", "init:b", "start:b", "stop:a"}, events)
}

func TestManagerStopContinuesPastFailure(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Add(&fakeComponent{name: "a", events: &events})
	m.Add(&fakeComponent{name: "b", stopErr: fmt.Errorf("stuck"), events: &events})

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll(time.Second)
	require.Error(t, err)

	// a still gets stopped after b fails.
	assert.Contains(t, events, "stop:a")
}

func TestManagerHealth(t *testing.T) {
	var events []string
	m := NewManager(nil)
	m.Add(&fakeComponent{name: "a", events: &events})

	health := m.Health()
	require.Contains(t, health, "a")
	assert.True(t, health["a"].Healthy)
}
