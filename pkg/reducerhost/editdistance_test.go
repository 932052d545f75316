package reducerhost

import "testing"

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b  string
		limit int
		want  int
		ok    bool
	}{
		{"kitten", "sitting", 5, 3, true},
		{"", "", 5, 0, true},
		{"abc", "abc", 5, 0, true},
		{"abc", "xyz", 1, 0, false},
	}
	for _, c := range cases {
		got, ok := editDistance(c.a, c.b, c.limit)
		if ok != c.ok {
			t.Fatalf("editDistance(%q,%q,%d) ok=%v want %v", c.a, c.b, c.limit, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("editDistance(%q,%q,%d)=%d want %d", c.a, c.b, c.limit, got, c.want)
		}
	}
}

func TestFindBestMatchExactCaseInsensitive(t *testing.T) {
	got := findBestMatch([]string{"SayHello", "other"}, "sayhello")
	if got != "SayHello" {
		t.Fatalf("got %q", got)
	}
}

func TestFindBestMatchEditDistance(t *testing.T) {
	got := findBestMatch([]string{"say_hello", "schedule_reducer"}, "say_helo")
	if got != "say_hello" {
		t.Fatalf("got %q", got)
	}
}

func TestFindBestMatchSortedWords(t *testing.T) {
	got := findBestMatch([]string{"reducer_schedule"}, "schedule_reducer")
	if got != "reducer_schedule" {
		t.Fatalf("got %q", got)
	}
}
