package oidcrp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_SubscribeAndRaise(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvent[string]("test")

	var got []string
	e.Subscribe(func(v string) { got = append(got, "first:"+v) })
	e.Subscribe(func(v string) { got = append(got, "second:"+v) })

	e.Raise("a")
	assert.Equal([]string{"first:a", "second:a"}, got)
}

func TestEvent_Unsubscribe(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvent[int]("test")

	var got []int
	unsub := e.Subscribe(func(v int) { got = append(got, v) })
	e.Raise(1)
	unsub()
	unsub() // idempotent
	e.Raise(2)
	assert.Equal([]int{1}, got)
}

func TestEvent_PanickingCallbackDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := NewEvent[struct{}]("test")

	var reached bool
	e.Subscribe(func(struct{}) { panic("boom") })
	e.Subscribe(func(struct{}) { reached = true })

	assert.NotPanics(func() { e.Raise(struct{}{}) })
	assert.True(reached)
}

func TestEvent_RaiseWithoutSubscribers(t *testing.T) {
	t.Parallel()
	e := NewEvent[error]("test")
	assert.NotPanics(t, func() { e.Raise(nil) })
}
