// Copyright 2026 fanjia1024
// Tests for the tool registry

package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("system", &stubTool{name: "echo"})
	r.Register("weather", &stubTool{name: "weather_query"})

	reg, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "system", reg.Service)
	assert.Equal(t, "echo", reg.Tool.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ServiceFor(t *testing.T) {
	r := NewRegistry()
	r.Register("weather", &stubTool{name: "weather_query"})

	svc, ok := r.ServiceFor("weather_query")
	require.True(t, ok)
	assert.Equal(t, "weather", svc)

	_, ok = r.ServiceFor("missing")
	assert.False(t, ok)
}

func TestRegistry_NamesKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("a", &stubTool{name: "t3"})
	r.Register("a", &stubTool{name: "t1"})
	r.Register("a", &stubTool{name: "t2"})
	assert.Equal(t, []string{"t3", "t1", "t2"}, r.Names())
}

func TestRegistry_ReRegisterOverwritesKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("old", &stubTool{name: "echo"})
	r.Register("a", &stubTool{name: "other"})
	r.Register("new", &stubTool{name: "echo"})

	reg, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "new", reg.Service)
	assert.Equal(t, []string{"echo", "other"}, r.Names())
}
