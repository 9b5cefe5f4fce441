package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"punctuation dropped", "Fantasy RPG Kit!", "fantasy-rpg-kit"},
		{"whitespace runs collapse", "  3D   Models  ", "3d-models"},
		{"hyphen runs collapse", "Tools -- Utilities", "tools-utilities"},
		{"diacritics folded", "Café Décor", "cafe-decor"},
		{"ampersand removed", "Audio & Music", "audio-music"},
		{"nothing usable", "!!!", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.input))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c-d", SanitizeFilename(`a/b\c:d`))
	assert.Equal(t, "plain name.png", SanitizeFilename("plain name.png"))
	assert.Equal(t, "what-", SanitizeFilename("what?"))
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "a b c", CollapseSpaces("  a \t b\n\nc "))
	assert.Equal(t, "", CollapseSpaces("   "))
}
