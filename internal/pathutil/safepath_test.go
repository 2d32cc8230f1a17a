package pathutil

import "testing"

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"pending-uploads/u1/images", false},
		{"pending-uploads/../secrets", true},
		{"./x", true},
		{"a/.", true},
		{"file..jpg", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasDotSegments(tt.in); got != tt.want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsSingleSegment(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"u1", true},
		{"42", true},
		{"", false},
		{"u1/extra", false},
		{`u1\x`, false},
		{"..", false},
		{".", false},
		{"a.b", true},
	}
	for _, tt := range tests {
		if got := IsSingleSegment(tt.in); got != tt.want {
			t.Errorf("IsSingleSegment(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFolderKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"pending-uploads", "pending-uploads/"},
		{"pending-uploads/", "pending-uploads/"},
		{"/featured-showcase/curated-properties/", "featured-showcase/curated-properties/"},
		{"", ""},
		{"/", ""},
		{"a/../b", ""},
		{"a//b", ""},
	}
	for _, tt := range tests {
		if got := FolderKey(tt.in); got != tt.want {
			t.Errorf("FolderKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
