package strm

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceAppliesUpstreamTimeout(t *testing.T) {
	logger := zerolog.Nop()

	s := NewService(nil, nil, nil, Config{UpstreamTimeout: 7 * time.Second}, &logger)
	tr, ok := s.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, tr.ResponseHeaderTimeout)
	// The client itself carries no deadline; long media copies are
	// bounded by the request context instead.
	assert.Zero(t, s.httpClient.Timeout)
}

func TestNewServiceDefaults(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(nil, nil, nil, Config{}, &logger)

	tr := s.httpClient.Transport.(*http.Transport)
	assert.Equal(t, 30*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, 6*time.Hour, s.cfg.MappingTTL)
	assert.Equal(t, 64*1024, s.cfg.ChunkSize)
}
