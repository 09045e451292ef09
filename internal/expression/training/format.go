package training

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
)

// FormatMatrix renders a confusion matrix as an aligned text table with the
// true labels down the side and predicted labels across the top.
func FormatMatrix(labels []string, confusion mat.Matrix) string {
	if confusion == nil || len(labels) == 0 {
		return ""
	}
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(w, "\t")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t", l)
	}
	fmt.Fprintln(w)
	for i, l := range labels {
		fmt.Fprintf(w, "%s\t", l)
		for j := range labels {
			fmt.Fprintf(w, "%d\t", int(confusion.At(i, j)))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
	return sb.String()
}
