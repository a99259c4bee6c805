package merging

import (
	"strings"
	"testing"
	"time"
)

func TestRewriteOffsetMarkersPlainSource(t *testing.T) {
	summary := "The proof begins [-90s-] and concludes [-0s-] with the lemma."
	got := rewriteOffsetMarkers(summary, "/home/user/lecture.mp4", 20*time.Minute)
	want := "The proof begins [21:30] and concludes [20:00] with the lemma."
	if got != want {
		t.Fatalf("rewrite = %q, want %q", got, want)
	}
}

func TestRewriteOffsetMarkersYouTubeLinks(t *testing.T) {
	summary := "Key definition [-30s-]."
	got := rewriteOffsetMarkers(summary, "https://youtu.be/dQw4w9WgXcQ", time.Hour)
	want := "Key definition [1:00:30](https://youtu.be/dQw4w9WgXcQ?t=3630)."
	if got != want {
		t.Fatalf("rewrite = %q, want %q", got, want)
	}
}

func TestRewriteOffsetMarkersLeavesMalformedAlone(t *testing.T) {
	summary := "Bracketed text [-s-] and [not a marker] stay put."
	if got := rewriteOffsetMarkers(summary, "x", 0); got != summary {
		t.Fatalf("malformed markers must pass through, got %q", got)
	}
}

func TestFormatStamp(t *testing.T) {
	cases := map[time.Duration]string{
		0:                               "0:00",
		95 * time.Second:                "1:35",
		time.Hour + 2*time.Minute + 3*time.Second: "1:02:03",
	}
	for d, want := range cases {
		if got := formatStamp(d); got != want {
			t.Errorf("formatStamp(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestDropPageMarkers(t *testing.T) {
	summary := "The theorem [page 12] follows from the setup [page 3]."
	got := dropPageMarkers(summary)
	want := "The theorem follows from the setup."
	if got != want {
		t.Fatalf("dropPageMarkers = %q, want %q", got, want)
	}
}

func TestDedupeBoilerplateStripsRepeatedFraming(t *testing.T) {
	first := strings.Join([]string{
		"These notes summarize the lecture.",
		"",
		"Topic A was introduced.",
	}, "\n")
	second := strings.Join([]string{
		"These notes summarize the lecture.",
		"",
		"Topic B extended the argument.",
	}, "\n")

	out := dedupeBoilerplate([]string{first, second})
	if out[0] != first {
		t.Fatalf("first summary must be untouched")
	}
	if strings.Contains(out[1], "These notes summarize") {
		t.Fatalf("repeated framing should be stripped, got %q", out[1])
	}
	if !strings.Contains(out[1], "Topic B extended the argument.") {
		t.Fatalf("inner content must survive, got %q", out[1])
	}
}

func TestDedupeBoilerplateKeepsInnerRepeats(t *testing.T) {
	repeated := "The instructor paused for questions."
	first := "Intro line.\na\nb\nc\n" + repeated + "\nd\ne\nf\nClosing line."
	second := "Another intro.\na2\nb2\nc2\n" + repeated + "\nd2\ne2\nf2\nAnother closing."

	out := dedupeBoilerplate([]string{first, second})
	if !strings.Contains(out[1], repeated) {
		t.Fatalf("lines outside the edge window must never be removed")
	}
}

func TestDedupeBoilerplateDeterministic(t *testing.T) {
	in := []string{"Same intro.\nBody one.", "Same intro.\nBody two."}
	a := dedupeBoilerplate(append([]string(nil), in...))
	b := dedupeBoilerplate(append([]string(nil), in...))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dedupe must be deterministic")
		}
	}
}
