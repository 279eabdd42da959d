package stats

import (
	"math"
	"strings"
	"testing"
)

func TestEMA(t *testing.T) {
	var e EMA
	v := e.Add(10, 4)
	if v != 10 {
		t.Errorf("first value %v", v)
	}
	e = EMA(v)
	v = e.Add(20, 4)
	// k = 2/5 so expect 20*0.4 + 10*0.6
	if math.Abs(v-14) > 1e-9 {
		t.Errorf("smoothed value %v expect 14", v)
	}
}

func TestAverage(t *testing.T) {
	s := new(Average)
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	if s.Mean != 5 {
		t.Errorf("mean %v expect 5", s.Mean)
	}
	// sample stddev of the above is sqrt(32/7)
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(s.StdDev-want) > 1e-9 {
		t.Errorf("stddev %v expect %v", s.StdDev, want)
	}
}

func TestConfusion(t *testing.T) {
	c := NewConfusion([]string{"0", "1", "2"})
	c.Add(0, 0)
	c.Add(0, 0)
	c.Add(1, 1)
	c.Add(1, 2)
	c.Add(2, 2)
	if c.Total() != 5 {
		t.Errorf("total %d", c.Total())
	}
	if math.Abs(c.Accuracy()-0.8) > 1e-9 {
		t.Errorf("accuracy %v expect 0.8", c.Accuracy())
	}
	s := c.String()
	t.Logf("\n%s", s)
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("expecting header and 3 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "2") {
		t.Error("missing diagonal count")
	}
}
