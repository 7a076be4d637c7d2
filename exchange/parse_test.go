package exchange

import (
	"testing"
	"time"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    float64
		wantErr bool
	}{
		{"string", "123.45", 123.45, false},
		{"empty string", "", 0, false},
		{"float64", 99.5, 99.5, false},
		{"int", 42, 42, false},
		{"nil", nil, 0, false},
		{"garbage string", "abc", 0, true},
		{"bool", true, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Float(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Float(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Float(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFloatOr(t *testing.T) {
	if got := FloatOr("not a number", 7); got != 7 {
		t.Fatalf("FloatOr = %v, want fallback 7", got)
	}
	if got := FloatOr("2.5", 7); got != 2.5 {
		t.Fatalf("FloatOr = %v, want 2.5", got)
	}
}

func TestTimeMillis(t *testing.T) {
	ts := TimeMillis(int64(1700000000000))
	if ts.Unix() != 1700000000 {
		t.Fatalf("TimeMillis = %v, want unix 1700000000", ts)
	}

	// Malformed timestamps default to now instead of failing the response.
	before := time.Now().Add(-time.Second)
	got := TimeMillis("garbage")
	if got.Before(before) {
		t.Fatalf("malformed timestamp should default to now, got %v", got)
	}
}

func TestTimeSecondsFractional(t *testing.T) {
	ts := TimeSeconds(1700000000.5)
	if ts.Unix() != 1700000000 {
		t.Fatalf("TimeSeconds = %v, want unix 1700000000", ts)
	}
	if ts.Nanosecond() == 0 {
		t.Fatal("fractional seconds should be preserved")
	}
}

func TestTimeRFC3339(t *testing.T) {
	ts := TimeRFC3339("2024-05-01T12:00:00Z")
	if ts.Year() != 2024 || ts.Month() != time.May {
		t.Fatalf("TimeRFC3339 = %v, want 2024-05-01", ts)
	}

	before := time.Now().Add(-time.Second)
	if got := TimeRFC3339("not a timestamp"); got.Before(before) {
		t.Fatalf("malformed timestamp should default to now, got %v", got)
	}
}
