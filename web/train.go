package web

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/StevenLOL/algorithms-1/nnet"
)

// assumed screen resolution for svg plot sizing
const plotDPI = 96

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	net *Network
}

// Base data for handler functions to perform network training and display the stats
func NewTrainPage(t *Templates, net *Network) *TrainPage {
	p := &TrainPage{net: net, Templates: t}
	for _, opt := range []string{"start", "stop", "continue"} {
		p.AddOption(Link{Name: opt, Url: "/train/" + opt})
	}
	p.AddOption(Link{Name: "tune", Url: "/train/tune"})
	return p
}

// Handler function for the train base template and commands
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.net.Lock()
		defer p.net.Unlock()
		switch cmd {
		case "start", "continue":
			if p.net.running {
				log.Println("skip start - already running")
			} else if err := p.net.Train(cmd == "start"); err != nil {
				logError(w, err)
				return
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "stop":
			if p.net.running {
				p.net.stop = true
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "tune":
			p.net.tuneMode = !p.net.tuneMode
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			p.Select("/train")
			p.SelectOptions(p.selected())
			p.Heading = p.net.heading()
			p.Exec(w, "train", p, true)
		}
	}
}

func (p *TrainPage) selected() []string {
	sel := []string{}
	if p.net.running {
		sel = append(sel, "start")
	}
	if p.net.tuneMode {
		sel = append(sel, "tune")
	}
	return sel
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Exec(w, "stats", p, false)
	}
}

// Handler function for websocket connection used to refresh the stats frame
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		p.net.conn, err = upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket upgrade error:", err)
		}
	}
}

func (p *TrainPage) Headers() []string {
	return p.net.test.Headers
}

func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	last := len(p.net.test.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, p.net.test.Stats[i])
	}
	return res
}

func (p *TrainPage) History() []HistoryRow {
	res := make([]HistoryRow, len(p.net.NetworkData.History))
	for i, h := range p.net.NetworkData.History {
		res[i] = HistoryRow{
			Run:     i + 1,
			Epoch:   h.Stats.Epoch,
			Params:  template.HTML(tuneParams(h)),
			Values:  h.Stats.Format(),
			Elapsed: h.Stats.Elapsed.Round(10 * time.Millisecond).String(),
		}
	}
	return res
}

type HistoryRow struct {
	Run     int
	Epoch   int
	Params  template.HTML
	Values  []string
	Elapsed string
}

func (p *TrainPage) RunTime() string {
	stats := p.net.test.Stats
	if len(stats) == 0 {
		return ""
	}
	elapsed := stats[len(stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	plt := newPlot()
	line := newLinePlot(p.net.test.Stats, 0, 1)
	plt.Add(line)
	plt.Legend.Add("training loss ", line)
	return writePlot(plt, width, height)
}

func (p *TrainPage) ErrorPlot(width, height int) template.HTML {
	plt := newPlot()
	for i, name := range p.Headers()[1:] {
		line := newLinePlot(p.net.test.Stats, i+1, 100)
		plt.Add(line)
		plt.Legend.Add(name+" % ", line)
	}
	return writePlot(plt, width, height)
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = 12
	p.Add(plotter.NewGrid())
	return p
}

func writePlot(p *plot.Plot, w, h int) template.HTML {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Inch*vg.Length(w)/plotDPI, vg.Inch*vg.Length(h)/plotDPI, "svg")
	if err != nil {
		log.Println("error writing plot:", err)
		return ""
	}
	writer.WriteTo(&buf)
	return template.HTML(buf.String())
}

func newLinePlot(stats []nnet.Stats, ix int, scale float64) linePlot {
	var pts plotter.XYs
	xmax, ymax := 1.0, 0.0
	for _, s := range stats {
		pt := plotter.XY{X: float64(s.Epoch), Y: s.Values[ix] * scale}
		pts = append(pts, pt)
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
	}
	l, _ := plotter.NewLine(pts)
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: 0, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
