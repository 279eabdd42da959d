package stats

import (
	"fmt"
	"strings"
)

// Confusion matrix with one row per true class and one column per prediction
type Confusion struct {
	Classes []string
	Count   [][]int
}

func NewConfusion(classes []string) *Confusion {
	c := &Confusion{Classes: classes, Count: make([][]int, len(classes))}
	for i := range c.Count {
		c.Count[i] = make([]int, len(classes))
	}
	return c
}

// Add one prediction to the matrix
func (c *Confusion) Add(label, predicted int) {
	c.Count[label][predicted]++
}

// Total number of predictions added
func (c *Confusion) Total() int {
	total := 0
	for _, row := range c.Count {
		for _, n := range row {
			total += n
		}
	}
	return total
}

// Fraction of predictions on the diagonal
func (c *Confusion) Accuracy() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	correct := 0
	for i, row := range c.Count {
		correct += row[i]
	}
	return float64(correct) / float64(total)
}

// Format the matrix as an aligned text table with class labels
func (c *Confusion) String() string {
	width := 0
	for _, name := range c.Classes {
		if len(name) > width {
			width = len(name)
		}
	}
	for _, row := range c.Count {
		for _, n := range row {
			if w := len(fmt.Sprint(n)); w > width {
				width = w
			}
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s", width+1, "")
	for _, name := range c.Classes {
		fmt.Fprintf(&sb, " %*s", width, name)
	}
	sb.WriteByte('\n')
	for i, row := range c.Count {
		fmt.Fprintf(&sb, "%*s ", width+1, c.Classes[i])
		for _, n := range row {
			fmt.Fprintf(&sb, "%*d ", width, n)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
