package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/MatteoM95/Project2-IDDA/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// Batch represents a batch of images and labels. Images stack to
// (N, C, H, W); labels stack to (N, H, W) for index maps or (N, C, H, W) for
// one-hot maps, following the per-sample shape the dataset produces.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// DataLoader provides batching, shuffling and parallel sample loading over a
// Dataset. One epoch yields each sample exactly once; Reset starts the next
// epoch (reshuffling when enabled).
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	dropLast   bool
	numWorkers int
	indices    []int
	position   int
	mutex      sync.Mutex
}

// NewDataLoader creates a new DataLoader. numWorkers bounds the per-batch
// decode parallelism; values below 1 load serially.
func NewDataLoader(dataset Dataset, batchSize int, shuffle, dropLast bool, numWorkers int) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:    dataset,
		batchSize:  batchSize,
		shuffle:    shuffle,
		dropLast:   dropLast,
		numWorkers: numWorkers,
		indices:    indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	if dl.dropLast {
		return dl.dataset.Len() / dl.batchSize
	}
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rand.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil when the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()

	if dl.position >= len(dl.indices) {
		dl.mutex.Unlock()
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		if dl.dropLast {
			dl.position = len(dl.indices)
			dl.mutex.Unlock()
			return nil, nil
		}
		batchEnd = len(dl.indices)
	}

	batchIndices := make([]int, batchEnd-dl.position)
	copy(batchIndices, dl.indices[dl.position:batchEnd])
	dl.position = batchEnd
	dl.mutex.Unlock()

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	if dl.dropLast {
		return dl.position+dl.batchSize <= len(dl.indices)
	}
	return dl.position < len(dl.indices)
}

// loadBatch loads the requested samples, decoding in parallel, and stacks
// them into batched tensors.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	n := len(indices)
	datas := make([]*tensor.Tensor, n)
	labels := make([]*tensor.Tensor, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	sem := make(chan struct{}, dl.numWorkers)
	for i, idx := range indices {
		wg.Add(1)
		go func(slot, sampleIdx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			datas[slot], labels[slot], errs[slot] = dl.dataset.Get(sampleIdx)
		}(i, idx)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", indices[i], err)
		}
	}

	batchData, err := stack(datas)
	if err != nil {
		return nil, fmt.Errorf("failed to stack batch images: %v", err)
	}
	batchLabels, err := stack(labels)
	if err != nil {
		return nil, fmt.Errorf("failed to stack batch labels: %v", err)
	}

	return &Batch{Data: batchData, Labels: batchLabels}, nil
}

// stack combines equally shaped sample tensors into one tensor with a leading
// batch dimension.
func stack(samples []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty sample list")
	}

	first := samples[0]
	for i, s := range samples[1:] {
		if !tensor.SameShape(first, s) {
			return nil, fmt.Errorf("sample %d shape %v differs from %v", i+1, s.Shape, first.Shape)
		}
	}

	out, err := tensor.Zeros(append([]int{len(samples)}, first.Shape...))
	if err != nil {
		return nil, err
	}

	stride := first.NumElems
	for i, s := range samples {
		copy(out.Data[i*stride:(i+1)*stride], s.Data)
	}
	return out, nil
}
