package detection

import (
	"math"
	"sort"
	"strings"

	"braillescan/internal/model"
)

// OrganizeRows groups cells into lines of text. A cell joins the current line
// while its center stays within half the mean cell height of the line's mean
// center; a gap wider than the mean cell width becomes a space.
func OrganizeRows(predictions []model.Prediction) []string {
	rows := make([]string, 0)
	if len(predictions) == 0 {
		return rows
	}

	var sumW, sumH float64
	for _, p := range predictions {
		sumW += p.Width
		sumH += p.Height
	}
	meanW := sumW / float64(len(predictions))
	meanH := sumH / float64(len(predictions))
	if meanH <= 0 {
		meanH = 1
	}
	threshold := meanH / 2

	sorted := make([]model.Prediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	var lines [][]model.Prediction
	var current []model.Prediction
	var currentSumY float64
	for _, p := range sorted {
		if len(current) > 0 && math.Abs(p.Y-currentSumY/float64(len(current))) > threshold {
			lines = append(lines, current)
			current = nil
			currentSumY = 0
		}
		current = append(current, p)
		currentSumY += p.Y
	}
	if len(current) > 0 {
		lines = append(lines, current)
	}

	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		var sb strings.Builder
		for i, p := range line {
			if i > 0 && meanW > 0 && p.Left()-line[i-1].Right() > meanW {
				sb.WriteByte(' ')
			}
			sb.WriteString(p.Class)
		}
		rows = append(rows, sb.String())
	}
	return rows
}
