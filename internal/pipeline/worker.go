package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/dataset"
)

// FileJob is the outcome of running the pipeline on one input file.
type FileJob struct {
	Path     string
	Name     string
	Result   *Result
	Err      error
	Duration time.Duration
}

// Worker runs the pipeline over many input files with a bounded pool.
type Worker struct {
	runner      *Runner
	workerCount int
	dateLayout  string
}

// NewWorker creates a pool of workerCount goroutines sharing runner.
func NewWorker(runner *Runner, workerCount int, dateLayout string) *Worker {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Worker{runner: runner, workerCount: workerCount, dateLayout: dateLayout}
}

// ProcessFiles runs every file and returns one job per file, in input
// order. A failing file does not stop the others; the first failure is
// returned alongside the jobs.
func (w *Worker) ProcessFiles(ctx context.Context, files []string) ([]*FileJob, error) {
	jobs := make([]*FileJob, len(files))
	for i, f := range files {
		jobs[i] = &FileJob{Path: f, Name: runName(f)}
	}

	jobChan := make(chan *FileJob, len(jobs))
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				w.processFile(ctx, workerID, job)
			}
		}(i)
	}

	var cancelled error
enqueue:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break enqueue
		case jobChan <- job:
		}
	}
	close(jobChan)
	wg.Wait()

	if cancelled != nil {
		return jobs, cancelled
	}
	for _, job := range jobs {
		if job.Err != nil {
			return jobs, fmt.Errorf("%s: %w", job.Path, job.Err)
		}
	}
	return jobs, nil
}

func (w *Worker) processFile(ctx context.Context, workerID int, job *FileJob) {
	start := time.Now()
	log := w.runner.log.With().Int("worker", workerID).Str("file", job.Path).Logger()

	defer func() { job.Duration = time.Since(start) }()

	raw, err := dataset.Load(job.Path, w.dateLayout)
	if err != nil {
		job.Err = err
		log.Error().Err(err).Msg("failed to load input file")
		return
	}

	job.Result, job.Err = w.runner.Run(ctx, job.Name, raw)
}

func runName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
