package objectkey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestPathGenerator(t *testing.T) {
	gen := NewPathGenerator()
	uploadID := uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")

	tests := []struct {
		name     string
		metadata *KeyMetadata
		expected string
	}{
		{
			name:     "without metadata",
			metadata: nil,
			expected: "packages/_/987fcdeb-51a2-43d1-9f12-345678901234",
		},
		{
			name: "with filename",
			metadata: &KeyMetadata{
				Project:  "foo",
				Version:  "1.0",
				FileName: "foo-1.0.tar.gz",
			},
			expected: "packages/foo/1.0/987fcdeb-51a2-43d1-9f12-345678901234/foo-1.0.tar.gz",
		},
		{
			name: "path traversal is neutralised",
			metadata: &KeyMetadata{
				Project:  "..",
				Version:  "1.0/../../x",
				FileName: "../evil",
			},
			expected: "packages/_/1.0_.._.._x/987fcdeb-51a2-43d1-9f12-345678901234/.._evil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := gen.GenerateKey(uploadID, tt.metadata)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestGitLikeGenerator(t *testing.T) {
	gen := NewGitLikeGenerator()
	uploadID := uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")

	key := gen.GenerateKey(uploadID, &KeyMetadata{FileName: "foo 1.0.zip"})
	if !strings.HasPrefix(key, "objects/98/") {
		t.Errorf("expected sharded prefix, got %s", key)
	}
	if !strings.HasSuffix(key, "_foo_1.0.zip") {
		t.Errorf("expected sanitized filename suffix, got %s", key)
	}

	if gen.GenerateKey(uploadID, nil) == gen.GenerateKey(uuid.New(), nil) {
		t.Errorf("expected distinct keys for distinct uploads")
	}
}

func TestFromName(t *testing.T) {
	for _, name := range []string{"", "path", "git-like", "gitlike"} {
		if _, err := FromName(name); err != nil {
			t.Errorf("FromName(%q): %v", name, err)
		}
	}
	if _, err := FromName("tenant"); err == nil {
		t.Errorf("expected error for unknown strategy")
	}
}
