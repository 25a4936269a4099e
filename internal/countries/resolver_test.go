package countries

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestResolverCode(t *testing.T) {
	resolver := NewResolver(zap.NewNop())

	tests := []struct {
		name    string
		country string
		want    string
	}{
		{name: "override constituent country", country: "Scotland", want: "gb"},
		{name: "override england", country: "England", want: "gb"},
		{name: "override wales", country: "Wales", want: "gb"},
		{name: "override northern ireland", country: "Northern Ireland", want: "gb"},
		{name: "override common name", country: "Laos", want: "la"},
		{name: "override non iso code", country: "Kosovo", want: "xk"},
		{name: "iso short name", country: "Norway", want: "no"},
		{name: "iso short name with comma", country: "Korea, Republic of", want: "kr"},
		{name: "iso united states", country: "United States", want: "us"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.Code(tt.country))
		})
	}
}

func TestResolverCodeUnknownEmitsDiagnostic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	resolver := NewResolver(zap.New(core))

	code := resolver.Code("Atlantis")

	assert.Equal(t, "", code)
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "missing code for country", entries[0].Message)
	assert.Equal(t, "Atlantis", entries[0].ContextMap()["country"])
}

func TestResolverCodeIsExactMatch(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	resolver := NewResolver(zap.New(core))

	assert.Equal(t, "", resolver.Code("scotland"))
	assert.Equal(t, "", resolver.Code(" Norway"))
	assert.Len(t, logs.All(), 2)
}

func TestResolverName(t *testing.T) {
	resolver := NewResolver(nil)

	name, ok := resolver.Name("NO")
	require.True(t, ok)
	assert.Equal(t, "Norway", name)

	name, ok = resolver.Name("gb")
	require.True(t, ok)
	assert.Equal(t, "United Kingdom", name)

	_, ok = resolver.Name("xk")
	assert.False(t, ok)

	_, ok = resolver.Name("zz")
	assert.False(t, ok)
}
