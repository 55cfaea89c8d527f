package tgui

import "testing"

func TestEscAndTags(t *testing.T) {
	if got := Esc(`<a href="x">&`); got != `&lt;a href=&#34;x&#34;&gt;&amp;` {
		t.Fatalf("Esc=%q", got)
	}
	if got := B("1<2"); got != "<b>1&lt;2</b>" {
		t.Fatalf("B=%q", got)
	}
	if got := Code("a&b"); got != "<code>a&amp;b</code>" {
		t.Fatalf("Code=%q", got)
	}
}

func TestMention(t *testing.T) {
	if got := Mention(`Ada "Countess"`, 42); got != `<a href="tg://user?id=42">Ada &#34;Countess&#34;</a>` {
		t.Fatalf("Mention=%q", got)
	}
}

func TestJoinHSkipsBlank(t *testing.T) {
	if got := JoinH(" ", B("x"), "", " ", Esc("y")); got != "<b>x</b> y" {
		t.Fatalf("JoinH=%q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"ééééé", 3, "éé…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestOneline(t *testing.T) {
	if got := Oneline(" a\n b\t\tc "); got != "a b c" {
		t.Fatalf("Oneline=%q", got)
	}
}
