package classify

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/StevenLOL/algorithms-1/stats"
)

// Result holds the evaluation stats for one classifier.
type Result struct {
	Name      string
	Accuracy  float64
	TrainTime time.Duration
	TestTime  time.Duration
	Confusion *stats.Confusion
}

// Danger flags results which are poor or too slow to use.
func (r Result) Danger() bool {
	return r.Accuracy < 0.9 || r.TestTime > 5*time.Second
}

func (r Result) String() string {
	return fmt.Sprintf("%-40s accuracy %.4f  train %s  test %s",
		r.Name, r.Accuracy, round(r.TrainTime), round(r.TestTime))
}

func round(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}

// Evaluate fits the classifier on the training set then scores it on the test
// set, predicting in chunks of chunkSize rows.
func Evaluate(c Classifier, xTrain *mat.Dense, yTrain []int, xTest *mat.Dense, yTest []int, classes []string, chunkSize int) (Result, error) {
	r := Result{Name: c.Name(), Confusion: stats.NewConfusion(classes)}
	start := time.Now()
	if err := c.Fit(xTrain, yTrain); err != nil {
		return r, err
	}
	r.TrainTime = time.Since(start)
	rows, cols := xTest.Dims()
	if chunkSize <= 0 {
		chunkSize = rows
	}
	start = time.Now()
	for pos := 0; pos < rows; pos += chunkSize {
		end := pos + chunkSize
		if end > rows {
			end = rows
		}
		chunk := xTest.Slice(pos, end, 0, cols).(*mat.Dense)
		for i, p := range c.Predict(chunk) {
			r.Confusion.Add(yTest[pos+i], p)
		}
	}
	r.TestTime = time.Since(start)
	r.Accuracy = r.Confusion.Accuracy()
	return r, nil
}

var reportTmpl = template.Must(template.New("report").Parse(`<table>
<tr><th>classifier</th><th>accuracy</th><th>training time</th><th>testing time</th></tr>
{{range .}}<tr{{if .Danger}} class="danger"{{end}}><td>{{.Name}}</td><td>{{printf "%.4f" .Accuracy}}</td><td>{{.TrainTime}}</td><td>{{.TestTime}}</td></tr>
{{end}}</table>
`))

// WriteHTML renders the results as an HTML table sorted by classifier name.
// Rows failing the accuracy or test time limits get the danger class.
func WriteHTML(w io.Writer, results []Result) error {
	sorted := append([]Result{}, results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for i := range sorted {
		sorted[i].TrainTime = round(sorted[i].TrainTime)
		sorted[i].TestTime = round(sorted[i].TestTime)
	}
	return reportTmpl.Execute(w, sorted)
}
