package comparator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GreatValueCreamSoda/govqmt/blockingpool"
	"github.com/GreatValueCreamSoda/govqmt/video"
	"golang.org/x/sync/errgroup"
)

type ProgressCallback func(done int, total int)

// metricResult holds the computed metric scores for a specific frame pair.
type metricResult struct {
	// The index of the frame pair these scores belong to.
	index  int
	scores map[string]float64 // Map of metric names to computed scores.
}

// framePair represents a paired set of frames from video A and video B, along
// with their indices for tracking.
type framePair struct {
	index int
	a, b  *video.Frame
}

// Comparator orchestrates the comparison of two video sources using a set of
// metrics.
//
// It reads frames from both sources in parallel, pairs them, computes the
// requested metrics on each pair using a configurable number of worker
// goroutines, and aggregates the results by frame index. With a single frame
// thread every frame is scored in order, one at a time.
//
// The zero value is not valid; use NewComparator to construct an instance.
type Comparator struct {
	// Source video A and B are the two videos that will be compared to each
	// other
	videoA, videoB video.Source
	// List of metrics who scores will be computed on each frame concurrently
	metrics []video.Metric
	// The number of frames that metrics will be ran on concurrently. This is
	// not the number of metric threads as each metric will be called
	// concurrently on each frame.
	frameThreads int
	// A pool of reusable frames buffers that reader threads will pull from,
	// fill, and that metric threads will return.
	framePoolA, framePoolB blockingpool.BlockingPool[*video.Frame]
	// The total number of frames that will be compared between video A and B.
	numFrames int

	// videoAFrameChan and videoBFrameChan receive the frames of each reader
	// in order. They are consumed by the frame pair goroutine.
	videoAFrameChan, videoBFrameChan chan *video.Frame

	// fPairChan is the channel all metric threads will read from.
	fPairChan chan framePair

	// scoresChan is the channel metric threads will send their results to that
	// will be consumed by the aggregation goroutine.
	scoresChan chan metricResult

	// finalScores accumulates per-metric lists of per-frame scores. completed
	// marks the frame indices whose scores have all arrived.
	finalScores map[string][]float64
	completed   []bool

	// readErrs records why a reader stopped early. A failed read ends the
	// run gracefully: frames already read are still scored.
	readErrs [2]error

	// ctx is the global context that all sub goroutines will run with during
	// .Run(). This is canceled if a metric fails or the caller cancels.
	ctx context.Context
	// readCancel stops the readers once pairing is over.
	readCancel context.CancelFunc

	// progress is called every time the aggregator receives the scores of a
	// frame. With more than one frame thread frames complete out of order.
	progress ProgressCallback
}

// NewComparator creates a new Comparator instance.
//
// Validates inputs, preallocates reusable frame buffers holding the views the
// metrics need, and initializes channels.
//
// frameThreads controls how many frame pairs are processed concurrently. If
// any metric requires strict sequential processing, set frameThreads = 1.
//
// numFrames specifies how many frame pairs to compare (must not exceed the
// frames announced by either source).
func NewComparator(videoA, videoB video.Source, metrics []video.Metric,
	frameThreads, numFrames int) (*Comparator, error) {
	c := &Comparator{
		videoA:       videoA,
		videoB:       videoB,
		metrics:      metrics,
		frameThreads: frameThreads,
		numFrames:    numFrames,
		finalScores:  make(map[string][]float64),
		completed:    make([]bool, max(numFrames, 0)),
	}

	if err := c.validateArguments(); err != nil {
		return nil, err
	}

	totalBuffers := c.calculateTotalNumberOfFrameBuffers()

	c.framePoolA = blockingpool.NewBlockingPool[*video.Frame](totalBuffers)
	c.framePoolB = blockingpool.NewBlockingPool[*video.Frame](totalBuffers)

	inputs := c.requiredInputs()
	for range totalBuffers {
		if err := c.allocateFrameBuffer(inputs); err != nil {
			return nil, err
		}
	}

	c.scoresChan = make(chan metricResult, frameThreads)

	return c, nil
}

func (c *Comparator) validateArguments() error {
	if c.videoA == nil || c.videoB == nil {
		return errors.New("either video a or video b was passed as a nil ptr")
	}

	if len(c.metrics) < 1 {
		return errors.New("at least one metric must be passed to measure with")
	}

	if c.frameThreads < 1 {
		return errors.New("at least 1 frame thread must be used to compare")
	}

	if c.numFrames < 1 {
		return errors.New("at least 1 frame must be compared")
	}

	if ga, gb := c.videoA.GetGeometry(), c.videoB.GetGeometry(); ga != gb {
		return fmt.Errorf("%w: video a is %dx%d yuv%s, video b is %dx%d "+
			"yuv%s", video.ErrGeometry, ga.Width, ga.Height, ga.Chroma,
			gb.Width, gb.Height, gb.Chroma)
	}

	if c.videoA.GetNumFrames() < c.numFrames {
		return errors.New("videoa has less frames than number of frames to " +
			"be compared")
	}

	if c.videoB.GetNumFrames() < c.numFrames {
		return errors.New("videob has less frames than number of frames to " +
			"be compared")
	}

	return nil
}

// requiredInputs is the union of the views every metric reads.
func (c *Comparator) requiredInputs() video.FrameInputs {
	var inputs video.FrameInputs
	for _, m := range c.metrics {
		inputs |= m.Inputs()
	}
	return inputs
}

// calculateTotalNumberOfFrameBuffers returns conservative estimate of needed
// buffers accounting for pipeline stages and worker concurrency.
func (c *Comparator) calculateTotalNumberOfFrameBuffers() int {
	c.videoBFrameChan = make(chan *video.Frame, 1)
	c.videoAFrameChan = make(chan *video.Frame, 1)
	var totalFrameBuffers int = 1

	c.fPairChan = make(chan framePair, c.frameThreads/2)
	totalFrameBuffers = totalFrameBuffers + (c.frameThreads/2 + 1) +
		c.frameThreads

	return totalFrameBuffers
}

func (c *Comparator) allocateFrameBuffer(inputs video.FrameInputs) error {
	fA, err := video.NewFrame(c.videoA.GetGeometry(), inputs)
	if err != nil {
		return err
	}
	c.framePoolA.Put(fA)

	fB, err := video.NewFrame(c.videoB.GetGeometry(), inputs)
	if err != nil {
		return err
	}
	c.framePoolB.Put(fB)

	return nil
}

// Run executes the full comparison pipeline and blocks until completion.
//
// It returns per-metric arrays of per-frame scores indexed by frame. When a
// source runs out of frames or a metric fails, the arrays are cut to the
// frames fully scored before the first missing one, and the error is
// returned alongside them.
func (c *Comparator) Run(parentCtx context.Context) (
	map[string][]float64, error) {
	group, ctx := errgroup.WithContext(parentCtx)
	c.ctx = ctx

	readCtx, readCancel := context.WithCancel(ctx)
	c.readCancel = readCancel
	defer readCancel()

	group.Go(func() error { return c.spawnReaderThreads(readCtx) })

	group.Go(func() error {
		defer close(c.fPairChan)
		return c.spawnFramePairThreads()
	})

	group.Go(func() error {
		defer close(c.scoresChan)
		return c.spawnMetricsThreads()
	})

	group.Go(c.aggregateResults)

	err := errors.Join(group.Wait(), c.readErrs[0], c.readErrs[1])

	done := c.completedPrefix()
	for name, values := range c.finalScores {
		c.finalScores[name] = values[:done]
	}

	if err == nil && done < c.numFrames {
		err = parentCtx.Err()
		if err == nil {
			err = fmt.Errorf("compared %d of %d frames", done, c.numFrames)
		}
	}
	if err != nil {
		slog.Debug("comparator: run stopped early", "frames", done,
			"total", c.numFrames, "err", err)
	}

	return c.finalScores, err
}

// SetProgressCallback registers an optional progress callback. Must be called
// before Run(). Pass nil to clear.
func (c *Comparator) SetProgressCallback(cb ProgressCallback) {
	c.progress = cb
}

// completedPrefix counts the frames scored without a gap from frame 0.
func (c *Comparator) completedPrefix() int {
	n := 0
	for n < len(c.completed) && c.completed[n] {
		n++
	}
	return n
}

// ----------------------------------------------------------------------------
// Reader Threads
// ----------------------------------------------------------------------------

// spawnReaderThreads starts two goroutines to read video A and B in parallel.
//
// Read failures are recorded in readErrs rather than returned, so the frames
// already handed downstream are still scored. Each reader closes its own
// channel as soon as it stops.
func (c *Comparator) spawnReaderThreads(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(c.videoAFrameChan)
		c.readErrs[0] = c.readerThread(ctx, "a", c.videoA,
			c.videoAFrameChan, c.framePoolA)
	}()
	go func() {
		defer wg.Done()
		defer close(c.videoBFrameChan)
		c.readErrs[1] = c.readerThread(ctx, "b", c.videoB,
			c.videoBFrameChan, c.framePoolB)
	}()

	wg.Wait()
	return nil
}

// readerThread reads from the supplied video source and sends them to the
// frameChan till the total number of frames is read, the source fails, or
// the context is canceled.
func (c *Comparator) readerThread(ctx context.Context, name string,
	source video.Source, frameChan chan *video.Frame,
	framePool blockingpool.BlockingPool[*video.Frame]) error {

	for i := 0; i < c.numFrames; i++ {
		frame, err := framePool.GetContext(ctx)
		if err != nil {
			return nil
		}

		if err := source.GetFrame(frame); err != nil {
			framePool.Put(frame)
			slog.Debug("comparator: reader stopped", "video", name,
				"frame", i, "err", err)
			return fmt.Errorf("video %s frame %d: %w", name, i, err)
		}

		select {
		case <-ctx.Done():
			framePool.Put(frame)
			return nil
		case frameChan <- frame:
		}
	}

	return nil
}

// ----------------------------------------------------------------------------
// Frame Pair Threads
// ----------------------------------------------------------------------------

// spawnFramePairThreads consumes one frame from each video channel, pairs
// them, and sends the pair on fPairChan.
//
// It stops at the first reader that closes early and then releases the other
// reader.
func (c *Comparator) spawnFramePairThreads() error {
	defer c.readCancel()

	for i := range c.numFrames {
		var a, b *video.Frame
		var ok bool

		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case a, ok = <-c.videoAFrameChan:
			if !ok {
				return nil
			}
		}

		select {
		case <-c.ctx.Done():
			c.framePoolA.Put(a)
			return c.ctx.Err()
		case b, ok = <-c.videoBFrameChan:
			if !ok {
				c.framePoolA.Put(a)
				return nil
			}
		}

		select {
		case <-c.ctx.Done():
			c.framePoolA.Put(a)
			c.framePoolB.Put(b)
			return c.ctx.Err()
		case c.fPairChan <- framePair{i, a, b}:
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Metric Threads
// ----------------------------------------------------------------------------

// spawnMetricsThreads starts frameThreads goroutines that each run
// metricThread, consuming frame pairs and producing metricResult values.
//
// If any error occurs execution is terminated early and the error is returned
func (c *Comparator) spawnMetricsThreads() error {
	group, ctx := errgroup.WithContext(c.ctx)

	for range c.frameThreads {
		group.Go(func() error { return c.metricThread(ctx) })
	}

	return group.Wait()
}

// metricThread consumes frame pairs from fPairChan, computes all requested
// metrics for each pair, and sends a metricResult on scoresChan.
func (c *Comparator) metricThread(ctx context.Context) error {
	for pair := range withContext(ctx, c.fPairChan) {
		scores, err := c.computeFrameMetrics(pair, c.metrics)
		if err != nil {
			return fmt.Errorf("frame %d: %w", pair.index, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.scoresChan <- metricResult{pair.index, scores}:
		}
	}
	return nil
}

// computeFrameMetrics runs all metrics in parallel for one frame pair. Returns
// frames to pools on exit (via defer).
func (c *Comparator) computeFrameMetrics(pair framePair,
	metrics []video.Metric) (map[string]float64, error) {
	defer c.framePoolA.Put(pair.a)
	defer c.framePoolB.Put(pair.b)

	result := make(map[string]float64, len(metrics))

	// A single metric runs on this goroutine.
	var mu sync.Mutex
	if len(metrics) == 1 {
		return result, computeFrameMetric(pair, result, metrics[0], &mu)
	}

	var group errgroup.Group
	for _, metric := range metrics {
		group.Go(func() error {
			return computeFrameMetric(pair, result, metric, &mu)
		})
	}

	return result, group.Wait()
}

// computeFrameMetric invokes a single Metric's Compute method and merges its
// results into the result map, returning an error on failure or duplicate
// keys.
func computeFrameMetric(pair framePair, res map[string]float64,
	metric video.Metric, mu *sync.Mutex) error {
	scores, err := metric.Compute(pair.a, pair.b)
	if err != nil {
		return fmt.Errorf("%s computation failed: %w", metric.Name(), err)
	}
	mu.Lock()
	defer mu.Unlock()
	for k, v := range scores {
		if _, exists := res[k]; exists {
			return fmt.Errorf("duplicate metric %q from %s", k, metric.Name())
		}
		res[k] = v
	}

	return nil
}

// ----------------------------------------------------------------------------
// Aggregation Threads
// ----------------------------------------------------------------------------

// aggregateResults consumes all metricResult values from scoresChan and
// accumulates them into the Comparator's finalScores map.
func (c *Comparator) aggregateResults() error {
	completed := 0
	for res := range withContext(c.ctx, c.scoresChan) {
		if res.index < 0 || res.index >= c.numFrames {
			return errors.New("aggregated index outside of numframe")
		}
		for name, val := range res.scores {
			if c.finalScores[name] == nil {
				c.finalScores[name] = make([]float64, c.numFrames)
			}
			c.finalScores[name][res.index] = val
		}
		c.completed[res.index] = true
		completed++
		if c.progress != nil {
			c.progress(completed, c.numFrames)
		}
	}
	return nil
}

// withContext returns a new read-only channel that mirrors values from the
// input channel ch until either ch is closed or the provided context ctx is
// canceled. The returned channel is closed in both cases.
func withContext[T any](ctx context.Context, ch <-chan T) <-chan T {
	out := make(chan T, 1) // buffered to avoid blocking on send

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
