package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

const (
	submitProgress   = 10
	downloadProgress = 90

	defaultPollInterval    = 5 * time.Second
	defaultMaxPollAttempts = 120
	defaultAttemptTimeout  = 120 * time.Second
	defaultJobCeiling      = 10 * time.Minute
	videoJobCeiling        = 30 * time.Minute
)

// FatalError marks a failure that must never be retried, such as an explicit
// provider failure status or a missing artifact.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return e.Message
}

// StreamFramer lets an adapter override the decoder framing for its streams.
type StreamFramer interface {
	StreamOptions() DecoderOptions
}

// RunnerOptions wires a Runner's collaborators.
type RunnerOptions struct {
	Repo     domain.JobRepository
	Blobs    BlobStore
	Progress ProgressSink
	Adapters map[domain.JobKind]Adapter
	Pools    map[string]*Pool
	Backoff  Backoff
	Logger   *infra.Logger

	AttemptTimeout  time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int

	// Sleep is a test seam; defaults to a ctx-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner drives one job from pending to a terminal state: it acquires a
// credential, submits to the provider adapter, follows the poll loop or
// stream to completion, and applies the backoff controller's decision after
// every failed attempt. A single Runner is safe for concurrent Run calls;
// each call owns its job record exclusively.
type Runner struct {
	repo     domain.JobRepository
	blobs    BlobStore
	progress ProgressSink
	adapters map[domain.JobKind]Adapter
	pools    map[string]*Pool
	backoff  Backoff
	logger   infra.Logger

	attemptTimeout  time.Duration
	pollInterval    time.Duration
	maxPollAttempts int
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewRunner constructs a Runner, applying reference defaults for unset knobs.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("engine: job repository is required")
	}
	if len(opts.Adapters) == 0 {
		return nil, errors.New("engine: at least one provider adapter is required")
	}
	r := &Runner{
		repo:            opts.Repo,
		blobs:           opts.Blobs,
		progress:        opts.Progress,
		adapters:        opts.Adapters,
		pools:           opts.Pools,
		backoff:         opts.Backoff,
		attemptTimeout:  opts.AttemptTimeout,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
		sleep:           opts.Sleep,
	}
	if opts.Logger != nil {
		r.logger = *opts.Logger
	}
	if r.backoff == (Backoff{}) {
		r.backoff = NewBackoff()
	}
	if r.attemptTimeout <= 0 {
		r.attemptTimeout = defaultAttemptTimeout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.maxPollAttempts <= 0 {
		r.maxPollAttempts = defaultMaxPollAttempts
	}
	if r.sleep == nil {
		r.sleep = sleepCtx
	}
	if r.pools == nil {
		r.pools = map[string]*Pool{}
	}
	return r, nil
}

// Run drives the job to a terminal state. The returned error mirrors what was
// persisted on failure and is for logging only; callers must not retry.
func (r *Runner) Run(ctx context.Context, job *domain.Job) error {
	logger := r.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	adapter, ok := r.adapters[job.Kind]
	if !ok {
		return r.fail(ctx, &logger, job, fmt.Sprintf("no provider configured for kind %q", job.Kind))
	}
	logger = logger.With().Str("provider", adapter.Name()).Logger()

	runCtx, cancel := context.WithTimeout(ctx, ceilingFor(job.Kind))
	defer cancel()

	if err := r.markProcessing(runCtx, job); err != nil {
		logger.Error().Err(err).Msg("runner: persist processing status failed")
		return err
	}

	artifact, err := r.execute(runCtx, &logger, adapter, job)
	if err != nil {
		return r.fail(ctx, &logger, job, failureMessage(err))
	}
	return r.complete(ctx, &logger, job, artifact)
}

// execute sequences submit attempts, applying the backoff controller's
// decision after each failure. Credential rotation on quota exhaustion does
// not consume the attempt budget.
func (r *Runner) execute(ctx context.Context, logger *infra.Logger, adapter Adapter, job *domain.Job) (*Artifact, error) {
	pool := r.pools[adapter.Name()]
	req := Request{JobID: job.ID, Kind: job.Kind, Input: job.Input}

	attempt := 1
	for {
		credential := ""
		if pool != nil {
			var ok bool
			credential, ok = pool.Acquire()
			if !ok {
				return nil, &FatalError{Message: fmt.Sprintf("no credentials configured for provider %q", adapter.Name())}
			}
		}

		artifact, err := r.attemptOnce(ctx, logger, adapter, req, credential, job)
		if err == nil {
			return artifact, nil
		}
		if ctx.Err() != nil {
			return nil, context.DeadlineExceeded
		}

		class := Classify(err)
		decision := r.backoff.Decide(attempt, class)

		if decision.Rotate {
			// Rate limited with nothing left to rotate to, including the
			// no-pool case, means the provider stays saturated; retrying
			// without a fresh credential would spin with zero delay.
			if pool == nil || !pool.MarkFailed(credential) {
				return nil, domain.ErrAllKeysExhausted
			}
			logger.Warn().Err(err).Msg("runner: credential quarantined, rotating")
			continue
		}
		if !decision.Retry {
			return nil, err
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("class", string(class)).
			Dur("delay", decision.Delay).
			Bool("degrade", decision.Degrade).
			Msg("runner: attempt failed, retrying")

		// Degradation drops the top tier only; requests already below it
		// keep their quality across further retries.
		if decision.Degrade && req.Quality == 0 {
			req.Quality = 1
		}
		if err := r.sleep(ctx, decision.Delay); err != nil {
			return nil, context.DeadlineExceeded
		}
		attempt++
	}
}

func (r *Runner) attemptOnce(ctx context.Context, logger *infra.Logger, adapter Adapter, req Request, credential string, job *domain.Job) (*Artifact, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	sub, err := adapter.Submit(attemptCtx, req, credential)
	if err != nil {
		return nil, err
	}

	switch sub.Mode {
	case ModeSync:
		if sub.Result == nil {
			return nil, &FatalError{Message: "no artifact in response"}
		}
		r.persistProgress(ctx, logger, job, downloadProgress)
		return sub.Result, nil
	case ModePoll:
		r.persistProgress(ctx, logger, job, submitProgress)
		return r.drivePoll(ctx, logger, adapter, sub.RemoteID, credential, job)
	case ModeStream:
		if sub.Stream == nil {
			return nil, &FatalError{Message: "no stream in response"}
		}
		defer sub.Stream.Close()
		r.persistProgress(ctx, logger, job, submitProgress)
		return r.driveStream(attemptCtx, logger, adapter, sub.Stream, job)
	default:
		return nil, &FatalError{Message: fmt.Sprintf("unknown submission mode %q", sub.Mode)}
	}
}

// drivePoll loops remote status queries until the task reaches a terminal
// remote state, translating remote progress onto the local scale. Poll call
// failures get their own backoff sequence; rotation makes no sense mid-task,
// so a rate-limited poll is treated like any transient failure.
func (r *Runner) drivePoll(ctx context.Context, logger *infra.Logger, adapter Adapter, remoteID, credential string, job *domain.Job) (*Artifact, error) {
	var last *Artifact
	pollFailures := 0

	for i := 0; i < r.maxPollAttempts; i++ {
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return nil, context.DeadlineExceeded
		}

		callCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		status, err := adapter.PollStatus(callCtx, remoteID, credential)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, context.DeadlineExceeded
			}
			pollFailures++
			class := Classify(err)
			if class == ClassRateLimited {
				class = ClassTransientServer
			}
			decision := r.backoff.Decide(pollFailures, class)
			if !decision.Retry {
				return nil, err
			}
			logger.Warn().Err(err).Int("poll_failures", pollFailures).Msg("runner: poll failed, retrying")
			if err := r.sleep(ctx, decision.Delay); err != nil {
				return nil, context.DeadlineExceeded
			}
			continue
		}
		pollFailures = 0

		if status.Artifact != nil {
			last = status.Artifact
		}
		switch status.State {
		case RemoteSucceeded:
			if last == nil {
				return nil, &FatalError{Message: "no artifact in poll response"}
			}
			r.persistProgress(ctx, logger, job, downloadProgress)
			return last, nil
		case RemoteFailed:
			msg := status.Message
			if msg == "" {
				msg = "remote task failed"
			}
			return nil, &FatalError{Message: msg}
		default:
			if status.Progress >= 0 {
				r.persistProgress(ctx, logger, job, mapRemoteProgress(status.Progress))
			}
		}
	}
	return nil, &FatalError{Message: "remote task did not finish within the poll budget"}
}

// driveStream feeds every chunk through the stream decoder, retaining the
// last-seen artifact reference until the success marker (or end of stream)
// is observed.
func (r *Runner) driveStream(ctx context.Context, logger *infra.Logger, adapter Adapter, stream io.Reader, job *domain.Job) (*Artifact, error) {
	var decoderOpts DecoderOptions
	if framer, ok := adapter.(StreamFramer); ok {
		decoderOpts = framer.StreamOptions()
	}
	decoder := NewDecoder(decoderOpts)

	var artifactRef string
	done := false
	buf := make([]byte, 4096)

	apply := func(events []Event) {
		for _, event := range events {
			if event.Progress >= 0 {
				r.persistProgress(ctx, logger, job, mapRemoteProgress(event.Progress))
			}
			if event.ArtifactRef != "" {
				artifactRef = event.ArtifactRef
			}
			if event.Done {
				done = true
			}
		}
	}

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			apply(decoder.Feed(buf[:n]))
		}
		if done && artifactRef != "" {
			break
		}
		if err == io.EOF {
			apply(decoder.Flush())
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}

	if artifactRef == "" {
		return nil, &FatalError{Message: "no artifact in stream"}
	}
	r.persistProgress(ctx, logger, job, downloadProgress)
	return &Artifact{URL: artifactRef}, nil
}

func (r *Runner) markProcessing(ctx context.Context, job *domain.Job) error {
	status := domain.JobStatusProcessing
	if err := r.repo.Update(ctx, job.ID, domain.JobUpdate{Status: &status}); err != nil {
		return err
	}
	job.Status = status
	return nil
}

// persistProgress applies the monotonic guard locally before writing; the
// store repeats the guard in SQL.
func (r *Runner) persistProgress(ctx context.Context, logger *infra.Logger, job *domain.Job, progress int) {
	if progress <= job.Progress {
		return
	}
	job.Progress = progress
	if err := r.repo.Update(ctx, job.ID, domain.JobUpdate{Progress: &progress}); err != nil {
		logger.Warn().Err(err).Int("progress", progress).Msg("runner: persist progress failed")
		return
	}
	if r.progress != nil {
		if err := r.progress.Set(ctx, job.ID, progress); err != nil {
			logger.Debug().Err(err).Msg("runner: progress mirror write failed")
		}
	}
}

func (r *Runner) complete(ctx context.Context, logger *infra.Logger, job *domain.Job, artifact *Artifact) error {
	// The job ceiling may have expired between the last provider call and
	// here; terminal writes must still land.
	writeCtx := context.WithoutCancel(ctx)

	resultURL := r.storeArtifact(writeCtx, logger, artifact)
	status := domain.JobStatusCompleted
	progress := 100
	now := time.Now().UTC()
	update := domain.JobUpdate{
		Status:      &status,
		Progress:    &progress,
		ResultURL:   &resultURL,
		CompletedAt: &now,
	}
	if err := r.repo.Update(writeCtx, job.ID, update); err != nil {
		logger.Error().Err(err).Msg("runner: persist completed status failed")
		return err
	}
	job.Status = status
	job.Progress = progress
	job.ResultURL = resultURL
	job.CompletedAt = &now
	if r.progress != nil {
		_ = r.progress.Set(writeCtx, job.ID, progress)
	}
	logger.Info().Str("result_url", resultURL).Msg("runner: job completed")
	return nil
}

// storeArtifact re-hosts the artifact in the blob store. Failures are not
// fatal to job completion: the provider's own URL is used instead.
func (r *Runner) storeArtifact(ctx context.Context, logger *infra.Logger, artifact *Artifact) string {
	if r.blobs == nil {
		return artifact.URL
	}
	var (
		stored string
		err    error
	)
	if len(artifact.Data) > 0 {
		stored, err = r.blobs.Upload(ctx, artifact.Data, artifact.Mime)
	} else if artifact.URL != "" {
		stored, err = r.blobs.UploadFromURL(ctx, artifact.URL)
	}
	if err != nil {
		logger.Warn().Err(err).Str("provider_url", artifact.URL).Msg("runner: blob fallback, artifact not re-hosted")
		return artifact.URL
	}
	if stored == "" {
		return artifact.URL
	}
	return stored
}

func (r *Runner) fail(ctx context.Context, logger *infra.Logger, job *domain.Job, message string) error {
	writeCtx := context.WithoutCancel(ctx)
	status := domain.JobStatusFailed
	now := time.Now().UTC()
	update := domain.JobUpdate{
		Status:      &status,
		Error:       &message,
		CompletedAt: &now,
	}
	if err := r.repo.Update(writeCtx, job.ID, update); err != nil {
		logger.Error().Err(err).Msg("runner: persist failed status failed")
		return err
	}
	job.Status = status
	job.ErrorMessage = message
	job.CompletedAt = &now
	logger.Warn().Str("reason", message).Msg("runner: job failed")
	return errors.New(message)
}

// failureMessage maps an internal error onto a short, stable cause that is
// safe to show a caller.
func failureMessage(err error) string {
	var fatal *FatalError
	switch {
	case errors.Is(err, domain.ErrAllKeysExhausted):
		return "all provider credentials exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	case errors.As(err, &fatal):
		return fatal.Message
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return fmt.Sprintf("provider error: %s", provErr.Message)
	}
	return "generation failed after repeated provider errors"
}

func ceilingFor(kind domain.JobKind) time.Duration {
	if kind == domain.JobKindVideo {
		return videoJobCeiling
	}
	return defaultJobCeiling
}

// mapRemoteProgress translates a remote 0-100 figure onto the local 20-90
// window; submission and artifact download consume the remainder.
func mapRemoteProgress(remote int) int {
	if remote < 0 {
		remote = 0
	}
	if remote > 100 {
		remote = 100
	}
	return 20 + remote*70/100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
