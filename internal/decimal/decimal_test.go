package decimal

import "testing"

func TestFormatFixedDigits(t *testing.T) {
	cases := []struct {
		val      float64
		decimals int
		want     string
	}{
		{69004.50, 2, "69004.50"},
		{99.80, 2, "99.80"},
		{54545.4545, 2, "54545.45"},
		{1.1, 5, "1.10000"},
	}
	for _, c := range cases {
		got := FromFloat(c.val).Format(c.decimals)
		if got != c.want {
			t.Errorf("Format(%v, %d) = %q, want %q", c.val, c.decimals, got, c.want)
		}
	}
}

func TestCrossRateDivision(t *testing.T) {
	btc := MustParse("60000.00")
	eur := MustParse("1.10000")
	got := btc.Quo(eur).Format(2)
	want := "54545.45"
	if got != want {
		t.Errorf("cross rate = %q, want %q", got, want)
	}
}

func TestVWAP(t *testing.T) {
	trades := []struct {
		price, vol float64
	}{
		{100, 2}, {101, 3}, {99, 5},
	}
	num := Zero
	den := Zero
	for _, tr := range trades {
		p := FromFloat(tr.price)
		v := FromFloat(tr.vol)
		num = num.Add(p.Mul(v))
		den = den.Add(v)
	}
	got := num.Quo(den).Format(2)
	if got != "99.80" {
		t.Errorf("vwap = %q, want 99.80", got)
	}
}

func TestRoundingIdempotent(t *testing.T) {
	d := FromFloat(1.005)
	first := d.Round(2)
	second := first.Round(2)
	if first.Format(2) != second.Format(2) {
		t.Errorf("rounding not idempotent: %q vs %q", first.Format(2), second.Format(2))
	}
}
