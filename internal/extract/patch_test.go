package extract

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  Class
	}{
		{"fat macho", []byte{0xCA, 0xFE, 0xBA, 0xBE}, FatMachO},
		{"macho 32", []byte{0xFE, 0xED, 0xFA, 0xCE}, MachO},
		{"macho 64", []byte{0xFE, 0xED, 0xFA, 0xCF}, MachO},
		{"macho 32 swapped", []byte{0xCE, 0xFA, 0xED, 0xFE}, MachO},
		{"macho 64 swapped", []byte{0xCF, 0xFA, 0xED, 0xFE}, MachO},
		{"elf", []byte{0x7F, 'E', 'L', 'F'}, ELF},
		{"text", []byte("#!/bin/sh"), Generic},
		{"short", []byte{0x7F}, Generic},
		{"empty", nil, Generic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.input))
		})
	}
}

func TestApplyReplacesBothPlaceholders(t *testing.T) {
	p := &Patcher{Prefix: "/data/chug", Cellar: "/data/chug/bottles"}

	in := []byte("a @@HOMEBREW_PREFIX@@/lib b @@HOMEBREW_CELLAR@@/gh c")
	assert.Equal(t, "a /data/chug/lib b /data/chug/bottles/gh c", string(p.Apply(in)))
}

func TestApplyRepeatedOccurrences(t *testing.T) {
	p := &Patcher{Prefix: "/p", Cellar: "/c"}

	in := []byte("@@HOMEBREW_PREFIX@@@@HOMEBREW_PREFIX@@")
	assert.Equal(t, "/p/p", string(p.Apply(in)))
}

func TestApplyWithoutOccurrenceReturnsOriginal(t *testing.T) {
	p := &Patcher{Prefix: "/p", Cellar: "/c"}

	in := []byte("nothing to see here")
	out := p.Apply(in)
	assert.True(t, bytes.Equal(in, out))
	// No occurrence means no copy at all.
	assert.Same(t, &in[0], &out[0])
}

func TestApplyIgnoresUnknownMarkers(t *testing.T) {
	p := &Patcher{Prefix: "/p", Cellar: "/c"}

	in := []byte("@@HOMEBREW_REPOSITORY@@ stays, @@HOMEBREW_PREFIX@@ goes")
	assert.Equal(t, "@@HOMEBREW_REPOSITORY@@ stays, /p goes", string(p.Apply(in)))
}

func TestApplyBinaryContents(t *testing.T) {
	p := &Patcher{Prefix: "/p", Cellar: "/c"}

	in := append([]byte{0x00, 0x01}, []byte("@@HOMEBREW_CELLAR@@\x00tail")...)
	want := append([]byte{0x00, 0x01}, []byte("/c\x00tail")...)
	assert.Equal(t, want, p.Apply(in))
}
