package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicDeliversInOrder(t *testing.T) {
	topic := NewTopic[string]()
	var got []string
	topic.Subscribe(func(v string) { got = append(got, "a:"+v) })
	cancel := topic.Subscribe(func(v string) { got = append(got, "b:"+v) })

	topic.Publish("x")
	cancel()
	cancel()
	topic.Publish("y")

	assert.Equal(t, []string{"a:x", "b:x", "a:y"}, got)
	last, ok := topic.Last()
	assert.True(t, ok)
	assert.Equal(t, "y", last)
}

func TestTopicLastBeforePublish(t *testing.T) {
	topic := NewTopic[int]()
	_, ok := topic.Last()
	assert.False(t, ok)
}
