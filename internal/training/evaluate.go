package training

import (
	"ktrdr/internal/domain"
)

// evaluate scores the model on a partition: accuracy, loss, per-class
// precision/recall/F1, and a confusion matrix indexed [actual][predicted].
func evaluate(model *MLP, ds *Dataset, classes []string) domain.TestMetrics {
	out := domain.TestMetrics{
		PerClass:        make(map[string]domain.ClassMetrics, len(classes)),
		ConfusionMatrix: make([][]int, len(classes)),
	}
	for i := range out.ConfusionMatrix {
		out.ConfusionMatrix[i] = make([]int, len(classes))
	}
	if ds == nil || ds.Len() == 0 {
		return out
	}

	pred := model.Predict(ds.X)
	out.Loss = crossEntropy(model.Probabilities(ds.X), ds.Y)
	out.Accuracy = accuracy(pred, ds.Y)
	for i, actual := range ds.Y {
		out.ConfusionMatrix[actual][pred[i]]++
	}

	for c, name := range classes {
		tp := out.ConfusionMatrix[c][c]
		var fp, fn int
		for other := range classes {
			if other == c {
				continue
			}
			fp += out.ConfusionMatrix[other][c]
			fn += out.ConfusionMatrix[c][other]
		}
		var cm domain.ClassMetrics
		if tp+fp > 0 {
			cm.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			cm.Recall = float64(tp) / float64(tp+fn)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		out.PerClass[name] = cm
	}
	return out
}

// evaluatePerSymbol splits the test partition by its split-time symbol
// tags and scores each slice separately.
func evaluatePerSymbol(model *MLP, test *Dataset, classes []string) map[string]domain.TestMetrics {
	if test == nil || test.Len() == 0 {
		return nil
	}
	rowsBySymbol := make(map[string][]int)
	for i, sym := range test.Symbols {
		rowsBySymbol[sym] = append(rowsBySymbol[sym], i)
	}
	out := make(map[string]domain.TestMetrics, len(rowsBySymbol))
	for sym, rows := range rowsBySymbol {
		out[sym] = evaluate(model, subset(test, rows), classes)
	}
	return out
}
