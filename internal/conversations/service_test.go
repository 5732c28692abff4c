package conversations

import (
	"context"
	"strings"
	"testing"
)

func TestTruncatePreview(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		limit bool
	}{
		{"short", "hello", "hello", false},
		{"exact", strings.Repeat("a", previewLimit), strings.Repeat("a", previewLimit), false},
		{"long", strings.Repeat("a", previewLimit+50), strings.Repeat("a", previewLimit-1) + "…", true},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncatePreview(tt.in)
			if got != tt.want {
				t.Errorf("truncatePreview() = %q, want %q", got, tt.want)
			}
			if runes := []rune(got); len(runes) > previewLimit {
				t.Errorf("truncated preview is %d runes, exceeds limit %d", len(runes), previewLimit)
			}
		})
	}
}

func TestListRejectsNonPositiveLimit(t *testing.T) {
	svc := NewService(nil, nil)
	for _, limit := range []int{0, -1} {
		if _, _, err := svc.List(context.Background(), limit, 0); err == nil {
			t.Errorf("List(limit=%d) expected an error", limit)
		}
	}
}

func TestTruncatePreviewMultibyte(t *testing.T) {
	in := strings.Repeat("terima kasih ", 20) // 260 runes
	got := truncatePreview(in)
	if runes := []rune(got); len(runes) != previewLimit {
		t.Errorf("expected exactly %d runes, got %d", previewLimit, len(runes))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis suffix, got %q", got[len(got)-4:])
	}
}
