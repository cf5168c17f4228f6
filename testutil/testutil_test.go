package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID   int
	Name string
}

func TestClock(t *testing.T) {
	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	c := NewClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestNewMiniRedis(t *testing.T) {
	mr := NewMiniRedis(t)
	require.NoError(t, mr.Set("k", "v"))
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewSQLiteDB(t *testing.T) {
	db := NewSQLiteDB(t, &row{})
	require.NoError(t, db.Create(&row{ID: 1, Name: "a"}).Error)

	var count int64
	require.NoError(t, db.Model(&row{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestContexts(t *testing.T) {
	assert.ErrorIs(t, CancelledContext().Err(), context.Canceled)
	ctx := TestContextWithTimeout(t, time.Hour)
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}

func TestAssertEventually(t *testing.T) {
	var n atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		n.Store(3)
	}()
	AssertEventuallyEqual(t, int32(3), func() any { return n.Load() }, time.Second)
	AssertEventuallyTrue(t, func() bool { return n.Load() == 3 }, time.Second)
	AssertJSONEqual(t, map[string]int{"a": 1}, struct {
		A int `json:"a"`
	}{1})
}
