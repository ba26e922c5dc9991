package media

import "testing"

func variantsOf(bitrates ...string) []Variant {
	out := make([]Variant, len(bitrates))
	for i, b := range bitrates {
		out[i] = Variant{Bitrate: b, Ref: b + "#" + string(rune('a'+i))}
	}
	return out
}

func TestSelectVariantPolicy(t *testing.T) {
	variants := variantsOf("64kbps", "96kbps", "128kbps", "160kbps", "192kbps")

	cases := []struct {
		quality Quality
		want    string
	}{
		{QualityLow, "64kbps"},
		{QualityMedium, "128kbps"},
		{QualityHigh, "192kbps"},
	}
	for _, tc := range cases {
		got, ok := SelectVariant(variants, tc.quality)
		if !ok {
			t.Fatalf("%s: expected a variant", tc.quality)
		}
		if got.Bitrate != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.quality, got.Bitrate, tc.want)
		}
	}
}

func TestSelectVariantMediumTieKeepsFirst(t *testing.T) {
	variants := variantsOf("120", "136")
	got, _ := SelectVariant(variants, QualityMedium)
	if got.Ref != variants[0].Ref {
		t.Fatalf("got %+v, want first variant %+v", got, variants[0])
	}

	reversed := variantsOf("136", "120")
	got, _ = SelectVariant(reversed, QualityMedium)
	if got.Ref != reversed[0].Ref {
		t.Fatalf("got %+v, want first variant %+v", got, reversed[0])
	}
}

func TestSelectVariantUnknownQualityFallsBackToHigh(t *testing.T) {
	variants := variantsOf("48kbps", "256kbps", "128kbps")
	got, _ := SelectVariant(variants, ParseQuality("ultra"))
	if got.Bitrate != "256kbps" {
		t.Fatalf("got %s, want 256kbps", got.Bitrate)
	}
}

func TestSelectVariantSkipsUnparseableBitrates(t *testing.T) {
	variants := variantsOf("", "unknown", "96kbps", "160kbps")

	for _, q := range []Quality{QualityLow, QualityMedium, QualityHigh} {
		got, ok := SelectVariant(variants, q)
		if !ok {
			t.Fatalf("%s: expected a variant", q)
		}
		if got.Bitrate == "" || got.Bitrate == "unknown" {
			t.Fatalf("%s: picked unparseable variant %+v", q, got)
		}
	}
}

func TestSelectVariantAllUnparseableReturnsFirst(t *testing.T) {
	variants := variantsOf("n/a", "")
	got, ok := SelectVariant(variants, QualityLow)
	if !ok || got.Ref != variants[0].Ref {
		t.Fatalf("got %+v ok=%v, want first variant", got, ok)
	}
}

func TestSelectVariantEmpty(t *testing.T) {
	if _, ok := SelectVariant(nil, QualityHigh); ok {
		t.Fatal("expected no variant for empty input")
	}
}

func TestParseQuality(t *testing.T) {
	cases := map[string]Quality{
		"low":    QualityLow,
		" LOW ":  QualityLow,
		"Medium": QualityMedium,
		"high":   QualityHigh,
		"":       QualityHigh,
		"best":   QualityHigh,
	}
	for in, want := range cases {
		if got := ParseQuality(in); got != want {
			t.Fatalf("ParseQuality(%q) = %s, want %s", in, got, want)
		}
	}
}
