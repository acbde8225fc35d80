package utils

import "testing"

func TestExtractObjectKeyFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"evidence/3/abc.jpg", "evidence/3/abc.jpg"},
		{"gs://bucket/evidence/3/abc.jpg", "evidence/3/abc.jpg"},
		{"https://storage.googleapis.com/bucket/evidence/3/abc.jpg", "evidence/3/abc.jpg"},
		{"https://bucket.storage.googleapis.com/evidence/3/abc.jpg", "evidence/3/abc.jpg"},
		{"https://cdn.example.com/a.jpg?objectKey=evidence%2F1%2Fx.jpg", "evidence/1/x.jpg"},
		{"../../etc/passwd", ""},
		{"", ""},
		{"https://example.com/other.jpg", ""},
	}
	for _, tc := range cases {
		if got := ExtractObjectKeyFromURL(tc.in); got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestBuildObjectAccessURL(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_BASE_URL", "")
	t.Setenv("GCS_BUCKET", "mrv-evidence")
	if got := BuildObjectAccessURL("evidence/1/x.jpg"); got != "https://storage.googleapis.com/mrv-evidence/evidence/1/x.jpg" {
		t.Fatalf("unexpected url %q", got)
	}
	t.Setenv("STORAGE_ACCESS_BASE_URL", "https://files.example.com/get?key={objectKey}")
	if got := BuildObjectAccessURL("evidence/1/x.jpg"); got != "https://files.example.com/get?key=evidence%2F1%2Fx.jpg" {
		t.Fatalf("unexpected url %q", got)
	}
}
