package training

import (
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/config"
	"ktrdr/internal/kerr"
)

// Split holds the three partitions of a dataset.
type Split struct {
	Train *Dataset
	Val   *Dataset
	Test  *Dataset
}

// splitDataset partitions each per-symbol block separately and then
// concatenates the partitions, so a row's train/val/test membership
// depends only on its own symbol's series, never on where that symbol
// sits in the configured list. The default cut is time-ordered within
// each block; random partitioning happens only when the config asks
// for it with an explicit seed.
func splitDataset(parts []*Dataset, tc config.TrainingConfig) (Split, error) {
	if len(parts) == 0 {
		return Split{}, kerr.New(kerr.KindNoData, "split: no dataset blocks")
	}
	trains := make([]*Dataset, 0, len(parts))
	vals := make([]*Dataset, 0, len(parts))
	tests := make([]*Dataset, 0, len(parts))
	for _, ds := range parts {
		n := ds.Len()
		valN := int(float64(n) * tc.ValSplit)
		testN := int(float64(n) * tc.TestSplit)
		trainN := n - valN - testN
		if trainN <= 0 {
			return Split{}, kerr.Newf(kerr.KindNoData, "split: %d rows leave no training share", n)
		}

		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if tc.Split == "random" {
			// A fresh source per block keeps each symbol's shuffle
			// independent of the other symbols.
			rng := rand.New(rand.NewSource(tc.Seed))
			rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		trains = append(trains, subset(ds, order[:trainN]))
		vals = append(vals, subset(ds, order[trainN:trainN+valN]))
		tests = append(tests, subset(ds, order[trainN+valN:]))
	}

	train, err := concatPartition(trains)
	if err != nil {
		return Split{}, err
	}
	val, err := concatPartition(vals)
	if err != nil {
		return Split{}, err
	}
	test, err := concatPartition(tests)
	if err != nil {
		return Split{}, err
	}
	return Split{Train: train, Val: val, Test: test}, nil
}

// concatPartition joins one partition's per-symbol slices. Unlike
// concatDatasets it tolerates a fully empty partition (val or test
// share of zero).
func concatPartition(parts []*Dataset) (*Dataset, error) {
	var total int
	for _, p := range parts {
		total += p.Len()
	}
	if total == 0 {
		return &Dataset{Columns: parts[0].Columns}, nil
	}
	return concatDatasets(parts)
}

// subset copies the selected rows into a new dataset.
func subset(ds *Dataset, rows []int) *Dataset {
	out := &Dataset{Columns: ds.Columns}
	if len(rows) == 0 {
		return out
	}
	x := mat.NewDense(len(rows), len(ds.Columns), nil)
	out.Y = make([]int, len(rows))
	out.Symbols = make([]string, len(rows))
	for r, i := range rows {
		x.SetRow(r, mat.Row(nil, i, ds.X))
		out.Y[r] = ds.Y[i]
		out.Symbols[r] = ds.Symbols[i]
	}
	out.X = x
	out.TS = make([]time.Time, len(rows))
	for r, i := range rows {
		out.TS[r] = ds.TS[i]
	}
	return out
}
