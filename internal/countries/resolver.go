// Package countries resolves free-text brewery country names to ISO 3166-1 alpha-2 codes.
package countries

import (
	"strings"

	"go.uber.org/zap"
)

// Resolver maps country names to lowercase alpha-2 codes and back.
type Resolver struct {
	byName map[string]string
	logger *zap.Logger
}

// NewResolver builds a resolver; unresolved names are reported through logger.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]string, len(isoShortNames))
	for code, name := range isoShortNames {
		byName[name] = code
	}
	return &Resolver{
		byName: byName,
		logger: logger,
	}
}

// Code returns the lowercase alpha-2 code for a country name, or "" when it cannot be resolved.
func (r *Resolver) Code(country string) string {
	if code, ok := overrides[country]; ok {
		return code
	}
	if code, ok := r.byName[country]; ok {
		return code
	}
	r.logger.Error("missing code for country", zap.String("country", country))
	return ""
}

// Name returns the ISO short name for an alpha-2 code.
func (r *Resolver) Name(code string) (string, bool) {
	name, ok := isoShortNames[strings.ToLower(strings.TrimSpace(code))]
	return name, ok
}
