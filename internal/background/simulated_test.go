package background

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSimulatedExtensionGrantLifecycle(t *testing.T) {
	ext := NewSimulatedExtension(zap.NewNop())

	id1, ok := ext.BeginGrant()
	assert.True(t, ok)
	id2, ok := ext.BeginGrant()
	assert.True(t, ok)
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, ext.ActiveGrants())

	ext.EndGrant(id1)
	ext.EndGrant(id1) // 不存在的授权是空操作
	assert.Equal(t, 1, ext.ActiveGrants())

	ext.EnableDeferredDelivery(500, 10*time.Second)
	assert.True(t, ext.DeferredDeliveryEnabled())
	ext.DisableDeferredDelivery()
	assert.False(t, ext.DeferredDeliveryEnabled())
}

func TestManagerWithSimulatedExtension(t *testing.T) {
	ext := NewSimulatedExtension(zap.NewNop())
	m := NewManager(zap.NewNop(), ext, 30*time.Second, 5*time.Second, 500, 10*time.Second, nil)

	m.EnterBackground()
	assert.Equal(t, 1, ext.ActiveGrants())
	assert.True(t, ext.DeferredDeliveryEnabled())

	m.EnterForeground()
	assert.Zero(t, ext.ActiveGrants())
	assert.False(t, ext.DeferredDeliveryEnabled())
}
