package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"test.mp3", "test.mp3"},
		{"test", "test.mp3"},
		{"TEST.MP3", "TEST.MP3"},
		{"  airhorn.mp3  ", "airhorn.mp3"},
		{"../../etc/passwd", "....etcpasswd.mp3"},
		{"a/b\\c.mp3", "abc.mp3"},
		{"", ".mp3"},
	}
	for _, tc := range cases {
		got := SanitizeName(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.NotContains(t, got, "/")
		assert.NotContains(t, got, "\\")
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{"test.mp3", "a/b.mp3", "weird\\name", "", "nested/../path"}
	for _, in := range inputs {
		once := SanitizeName(in)
		assert.Equal(t, once, SanitizeName(once))
	}
}

func TestKeyScheme(t *testing.T) {
	for _, base := range []string{"audio", "audio/", "/audio/", "  audio  ", ""} {
		k := NewKeyScheme(base)
		assert.Equal(t, "audio", k.Base())
		assert.Equal(t, "audio/g1/", k.TenantPrefix("g1"))
	}

	k := NewKeyScheme("clips")
	assert.Equal(t, "clips/g1/test.mp3", k.ObjectKey("g1", "test"))
	assert.Equal(t, "test.mp3", k.NameFromKey("g1", "clips/g1/test.mp3"))
}

func TestKeySchemeTenantIsolation(t *testing.T) {
	k := NewKeyScheme("audio")

	// A sanitized name can never move the key out of its own prefix.
	hostile := k.ObjectKey("g1", "../g2/steal.mp3")
	assert.True(t, strings.HasPrefix(hostile, k.TenantPrefix("g1")))
	assert.False(t, strings.HasPrefix(hostile, k.TenantPrefix("g2")))
}
