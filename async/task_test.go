package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_NilFunctor(t *testing.T) {
	task, err := NewTask(nil, 0, nil)
	require.Error(t, err)
	require.Nil(t, task)
	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestNewDynamicTask_NilFunctor(t *testing.T) {
	task, err := NewDynamicTask(nil, 0, nil)
	require.Error(t, err)
	require.Nil(t, task)
}

func TestTask_OwnerAndTag(t *testing.T) {
	owner := new(int)
	task, err := NewTask(owner, 7, func() {})
	require.NoError(t, err)
	assert.Same(t, owner, task.Owner())
	assert.EqualValues(t, 7, task.Tag())
	assert.False(t, task.IsDynamic())
}

func TestTask_Close_Free(t *testing.T) {
	task, err := NewTask(nil, 0, func() {})
	require.NoError(t, err)
	assert.NotPanics(t, func() { task.Close() })
}

func TestTask_Close_QueuedPanics(t *testing.T) {
	task, err := NewTask(nil, 0, func() {})
	require.NoError(t, err)
	task.storeState(taskStaticQueued)
	assert.Panics(t, func() { task.Close() })
}

func TestTask_Close_DynamicPanics(t *testing.T) {
	task, err := NewDynamicTask(nil, 0, func() {})
	require.NoError(t, err)
	assert.Panics(t, func() { task.Close() })
}

func TestTask_PrepareForLink_SelfRequeueDuringRun(t *testing.T) {
	task, err := NewTask(nil, 0, func() {})
	require.NoError(t, err)
	task.storeState(taskStaticRunning)

	require.NoError(t, task.prepareForLink(task))
	assert.Equal(t, taskStaticRunningRequeued, task.loadState())

	// A second self-requeue before the first is consumed is rejected.
	err = task.prepareForLink(task)
	require.Error(t, err)
	var logicErr *LogicError
	require.ErrorAs(t, err, &logicErr)
}

func TestTask_PrepareForLink_AlreadyQueued(t *testing.T) {
	task, err := NewTask(nil, 0, func() {})
	require.NoError(t, err)
	task.storeState(taskStaticQueued)
	err = task.prepareForLink(nil)
	require.Error(t, err)
}

func TestDeferredTask_SetExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	dt, err := NewDeferredTask(nil, 0, func() {}, now)
	require.NoError(t, err)
	assert.Equal(t, now, dt.Expiry())

	later := now.Add(time.Hour)
	require.NoError(t, dt.SetExpiry(later))
	assert.Equal(t, later, dt.Expiry())

	dt.storeState(taskStaticQueued)
	require.Error(t, dt.SetExpiry(now))
}

func TestNewDeferredTaskAfter(t *testing.T) {
	before := time.Now()
	dt, err := NewDeferredTaskAfter(nil, 0, func() {}, time.Minute)
	require.NoError(t, err)
	assert.True(t, dt.Expiry().After(before))
}
