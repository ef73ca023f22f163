package extractor

import (
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSupported(t *testing.T) {
	logger := zerolog.Nop()
	s := NewService(http.DefaultClient, &logger)

	assert.True(t, s.Supported("VOE"))
	assert.True(t, s.Supported("voe"))
	assert.True(t, s.Supported("Filemoon"))
	assert.False(t, s.Supported("UnknownHoster"))
}

func TestFindPackedScript(t *testing.T) {
	page := `<html><script>var x = 1;</script>
<script>eval(function(p,a,c,k,e,d){...}('payload',10,2,'a|b'.split('|')))</script>
</html>`

	blob := findPackedScript(page)
	assert.Contains(t, blob, "eval(function(p,a,c,k,e,d)")
	assert.Contains(t, blob, "'a|b'.split('|')")
	assert.NotContains(t, blob, "</script>")

	assert.Equal(t, "", findPackedScript("<html>no eval here</html>"))
}

func TestUnpackEval(t *testing.T) {
	// Base-10 keyword substitution: token 0 -> "file", token 1 -> "https".
	packed := `eval(function(p,a,c,k,e,d){}('0:"1://cdn/video.m3u8"',10,2,'file|https'.split('|')))`

	out := unpackEval(packed)
	assert.Equal(t, `file:"https://cdn/video.m3u8"`, out)
}

func TestUnpackEvalMalformed(t *testing.T) {
	assert.Equal(t, "", unpackEval("not packed at all"))
}

func TestParseRadix(t *testing.T) {
	assert.Equal(t, 10, parseRadix("a", 36))
	assert.Equal(t, 35, parseRadix("z", 36))
	assert.Equal(t, 36, parseRadix("10", 36))
	assert.Equal(t, -1, parseRadix("!", 36))
	assert.Equal(t, -1, parseRadix("9", 8))
}
