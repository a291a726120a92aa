package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0", AnonymizeIP("203.0.113.57"))
	assert.Equal(t, "2001:db8:1::", AnonymizeIP("2001:db8:1:2:3:4:5:6"))
	// garbage passes through untouched
	assert.Equal(t, "not-an-ip", AnonymizeIP("not-an-ip"))
}

func TestHashIPIgnoresLastOctet(t *testing.T) {
	a := HashIP("203.0.113.57", "s3cret")
	b := HashIP("203.0.113.99", "s3cret")
	assert.Equal(t, a, b, "addresses in the same /24 must hash identically")

	c := HashIP("203.0.114.57", "s3cret")
	assert.NotEqual(t, a, c)

	d := HashIP("203.0.113.57", "other-secret")
	assert.NotEqual(t, a, d, "secret must participate in the hash")
}
