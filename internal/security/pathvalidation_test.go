package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	safeDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safeDir, "psnr.png"), false},
		{"nested new dir", filepath.Join(safeDir, "reports", "run1", "psnr.html"), false},
		{"dot dot escape", filepath.Join(safeDir, "..", "escape.png"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"the dir itself", safeDir, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tc.path, safeDir)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestValidatePathWithinDirectorySymlink(t *testing.T) {
	safeDir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(safeDir, "evil")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	err := ValidatePathWithinDirectory(filepath.Join(link, "newfile.png"), safeDir)
	if err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"target_ph0", "target_ph0"},
		{"J1924-2914 field 3", "J1924-2914_field_3"},
		{"../../etc", "etc"},
		{"///", "unknown"},
		{"a//b", "a_b"},
	}
	for _, tc := range tests {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("x", 300)
	if got := SanitizeName(long); len(got) != 128 {
		t.Errorf("SanitizeName long len = %d, want 128", len(got))
	}
}
