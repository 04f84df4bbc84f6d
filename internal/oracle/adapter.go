package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// CallTimeout bounds one model call.
	CallTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of extra attempts after a failed call.
	DefaultMaxRetries = 2

	defaultMIMEType = "image/jpeg"
)

// Adapter resolves image references, asks the model for a judgement and
// normalizes the answer.
type Adapter struct {
	model         Model
	fetcher       Fetcher
	defaultBucket string
	timeout       time.Duration
	maxRetries    int
	backoff       time.Duration
	logger        *logrus.Logger
}

type Option func(*Adapter)

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(a *Adapter) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

// WithBackoff sets the base delay between attempts; it doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(a *Adapter) { a.backoff = d }
}

func NewAdapter(model Model, fetcher Fetcher, defaultBucket string, logger *logrus.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		model:         model,
		fetcher:       fetcher,
		defaultBucket: defaultBucket,
		timeout:       CallTimeout,
		maxRetries:    DefaultMaxRetries,
		backoff:       time.Second,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// JudgeIntake judges a single before photo.
func (a *Adapter) JudgeIntake(ctx context.Context, ref string) (IntakeJudgement, error) {
	img, err := a.resolve(ctx, ref)
	if err != nil {
		return IntakeJudgement{}, err
	}

	var judgement IntakeJudgement
	err = a.withRetries(ctx, "intake", ref, func(ctx context.Context) error {
		raw, err := a.model.Judge(ctx, []Image{img}, IntakeInstruction)
		if err != nil {
			return err
		}
		judgement, err = ParseIntake(raw)
		return err
	})
	return judgement, err
}

// JudgeComparison judges a before/after pair. The before image is always sent
// first.
func (a *Adapter) JudgeComparison(ctx context.Context, beforeRef, afterRef string) (ComparisonJudgement, error) {
	var before, after Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = a.resolve(gctx, beforeRef)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = a.resolve(gctx, afterRef)
		return err
	})
	if err := g.Wait(); err != nil {
		return ComparisonJudgement{}, err
	}

	var judgement ComparisonJudgement
	err := a.withRetries(ctx, "comparison", afterRef, func(ctx context.Context) error {
		raw, err := a.model.Judge(ctx, []Image{before, after}, ComparisonInstruction)
		if err != nil {
			return err
		}
		judgement, err = ParseComparison(raw)
		return err
	})
	return judgement, err
}

func (a *Adapter) resolve(ctx context.Context, ref string) (Image, error) {
	objRef, err := ParseReference(ref, a.defaultBucket)
	if err != nil {
		return Image{}, err
	}

	data, contentType, err := a.fetcher.Fetch(ctx, objRef)
	if err != nil {
		var refErr *ReferenceResolutionError
		if errors.As(err, &refErr) {
			return Image{}, err
		}
		return Image{}, fmt.Errorf("%w: fetch %s/%s: %v", ErrUnavailable, objRef.Bucket, objRef.Object, err)
	}
	if len(data) == 0 {
		return Image{}, &ReferenceResolutionError{Ref: ref, Reason: "object is empty"}
	}

	return Image{Data: data, MIMEType: imageMIMEType(contentType)}, nil
}

func imageMIMEType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if !strings.HasPrefix(ct, "image/") {
		return defaultMIMEType
	}
	return ct
}

// withRetries runs call with a per-attempt timeout. Transport failures and
// unparseable answers are retried; the last ResponseError is returned as is so
// callers can inspect the raw text.
func (a *Adapter) withRetries(ctx context.Context, task, ref string, call func(context.Context) error) error {
	log := a.logger.WithFields(logrus.Fields{
		"component": "oracle",
		"task":      task,
		"ref":       ref,
	})

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff * time.Duration(1<<uint(attempt-1))
			log.WithField("attempt", attempt+1).Debugf("retrying in %s", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("oracle call failed")

		if ctx.Err() != nil {
			break
		}
	}

	var respErr *ResponseError
	if errors.As(lastErr, &respErr) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
