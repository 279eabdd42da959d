package web

import (
	"testing"

	"github.com/StevenLOL/algorithms-1/nnet"
)

func TestRunConfig(t *testing.T) {
	conf := nnet.Config{Eta: 0.1, Lambda: 3, TrainBatch: 10, TrainRuns: 1}
	param := []TuneParams{
		{Name: "Eta", Values: []string{"0.1", "0.05", "0.15"}},
		{Name: "Lambda", Values: []string{"3", "5"}},
		{Name: "TrainBatch", Values: []string{"10", "20"}},
	}
	runs := getRunConfig(conf, param)
	if len(runs) != 12 {
		t.Errorf("got %d runs expect 12", len(runs))
	}
	conf.TrainRuns = 2
	runs = getRunConfig(conf, param)
	if len(runs) != 24 {
		t.Errorf("got %d runs expect 24", len(runs))
	}
	if runs[0].Eta != 0.1 || runs[0].Lambda != 3 || runs[0].TrainBatch != 10 {
		t.Errorf("unexpected first run config %+v", runs[0])
	}
}

func TestFactorise(t *testing.T) {
	tests := []struct{ n, nmin, f1, f2 int }{
		{100, 20, 5, 20},
		{10, 20, 1, 10},
		{32, 20, 2, 16},
		{1, 0, 1, 1},
	}
	for _, tc := range tests {
		f1, f2 := factorise(tc.n, tc.nmin, 0.25)
		if f1 != tc.f1 || f2 != tc.f2 {
			t.Errorf("factorise(%d, %d) got %d %d expect %d %d", tc.n, tc.nmin, f1, f2, tc.f1, tc.f2)
		}
	}
}

func TestMapColor(t *testing.T) {
	lo := mapColor(-2, -1, 1)
	if lo.R != 0 || lo.G != 0 || lo.B != 127 {
		t.Errorf("low color %v", lo)
	}
	hi := mapColor(2, -1, 1)
	if hi.R != 127 || hi.G != 0 || hi.B != 0 {
		t.Errorf("high color %v", hi)
	}
	mid := mapColor(0, -1, 1)
	if mid.G != 255 {
		t.Errorf("mid color %v", mid)
	}
}

func TestMod(t *testing.T) {
	if mod(0, 1, 5) != 5 || mod(6, 1, 5) != 1 || mod(3, 1, 5) != 3 {
		t.Error("mod wrap failed")
	}
}
