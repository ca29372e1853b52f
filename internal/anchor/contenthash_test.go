package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_RoundTrip(t *testing.T) {
	html := `<div id="x1" data-timestamp="1700000000" class="b a"><!-- note --><p>Hi   there</p></div>`
	once, err := Normalize(html)
	assert.NoError(t, err)

	twice, err := Normalize(once)
	assert.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestContentHash_IgnoresVolatileAttributes(t *testing.T) {
	a := `<div id="abc" data-timestamp="1">Same text</div>`
	b := `<div id="xyz" data-timestamp="2">Same text</div>`

	hashA, err := ContentHash(a)
	assert.NoError(t, err)
	hashB, err := ContentHash(b)
	assert.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestContentHash_DiffersOnRealContentChange(t *testing.T) {
	a := `<div>Hello</div>`
	b := `<div>Goodbye</div>`

	hashA, _ := ContentHash(a)
	hashB, _ := ContentHash(b)

	assert.NotEqual(t, hashA, hashB)
}
