package quote

import "testing"

func TestNormalizeArticleNumber(t *testing.T) {
	cases := []struct {
		input        string
		wantBase     string
		wantPrefix   string
		wantRevision string
	}{
		{"byn-10101251", "10101251", "byn-", ""},
		{"90057637-00", "90057637", "", "00"},
		{"trgcz-123456", "123456", "trgcz-", ""},
		{"10101251", "10101251", "", ""},
	}

	for _, tc := range cases {
		got := NormalizeArticleNumber(tc.input)
		if got.Base != tc.wantBase {
			t.Errorf("NormalizeArticleNumber(%q).Base = %q, want %q", tc.input, got.Base, tc.wantBase)
		}
		if got.Prefix != tc.wantPrefix {
			t.Errorf("NormalizeArticleNumber(%q).Prefix = %q, want %q", tc.input, got.Prefix, tc.wantPrefix)
		}
		if got.Revision != tc.wantRevision {
			t.Errorf("NormalizeArticleNumber(%q).Revision = %q, want %q", tc.input, got.Revision, tc.wantRevision)
		}
	}
}

func TestArticleNumberVariants_DropsDuplicates(t *testing.T) {
	variants := ArticleNumberVariants("10101251")
	if len(variants) != 1 || variants[0] != "10101251" {
		t.Errorf("ArticleNumberVariants(%q) = %v, want single variant", "10101251", variants)
	}
}

func TestArticleNumberVariants_OrdersByPriority(t *testing.T) {
	variants := ArticleNumberVariants("byn-90057637-00")
	want := []string{"byn-90057637-00", "90057637-00", "90057637"}
	if len(variants) != len(want) {
		t.Fatalf("ArticleNumberVariants = %v, want %v", variants, want)
	}
	for i := range want {
		if variants[i] != want[i] {
			t.Errorf("variant[%d] = %q, want %q", i, variants[i], want[i])
		}
	}
}
