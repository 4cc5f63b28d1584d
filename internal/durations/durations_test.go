package durations

import (
	"errors"
	"fmt"
	"testing"
)

func TestParse_SupportedUnits(t *testing.T) {
	cases := []struct {
		unit string
		ms   int64
	}{
		{"millisecond", 1},
		{"second", 1000},
		{"minute", 60 * 1000},
		{"hour", 60 * 60 * 1000},
		{"day", 24 * 60 * 60 * 1000},
	}

	for _, tc := range cases {
		for _, n := range []int64{0, 1, 5, 250} {
			for _, plural := range []string{tc.unit, tc.unit + "s"} {
				input := fmt.Sprintf("%d %s", n, plural)
				got, err := Parse(input)
				if err != nil {
					t.Fatalf("Parse(%q) unexpected error: %v", input, err)
				}
				want := n * tc.ms
				if got != want {
					t.Errorf("Parse(%q) = %d, want %d", input, got, want)
				}
			}
		}
	}
}

func TestParse_CaseInsensitiveAndWhitespace(t *testing.T) {
	got, err := Parse("  5    SECONDS  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5000 {
		t.Errorf("got %d, want 5000", got)
	}
}

func TestParse_InvalidShape(t *testing.T) {
	for _, in := range []string{"", "five seconds", "5", "seconds", "-5 seconds"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidDuration", in, err)
		}
	}
}

func TestParse_UnknownUnit(t *testing.T) {
	_, err := Parse("3 fortnights")
	if !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("err = %v, want ErrUnknownUnit", err)
	}
}

func TestParse_Overflow(t *testing.T) {
	_, err := Parse("9223372036854775807 days")
	if !errors.Is(err, ErrDurationOverflow) {
		t.Errorf("err = %v, want ErrDurationOverflow", err)
	}
}
