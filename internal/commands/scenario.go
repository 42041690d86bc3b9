package commands

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	runonce "github.com/sirvaulterscoff/run-once"
	"github.com/sirvaulterscoff/run-once/internal/output"
)

// NewScenarioCmd creates the "scenario" command, which replays one of the
// seven canonical end-to-end scenarios against a real coordinator and
// prints the observed result or error of each step.
func NewScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "scenario [name]",
		Short:     "Replay a canonical coordinator scenario (s1..s7)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			fn, ok := scenarios[name]
			if !ok {
				return cmdErr(fmt.Errorf("unknown scenario %q", name))
			}

			var steps []scenarioStep
			err := withCoordinator(func(c *runonce.Coordinator) error {
				s, err := fn(cmd.Context(), c)
				steps = s
				return err
			})
			if err != nil {
				return err
			}

			return output.PrintSuccess(struct {
				Name  string         `json:"scenario"`
				Steps []scenarioStep `json:"steps"`
			}{Name: name, Steps: steps})
		},
	}
	return cmd
}

// scenarioStep records the observable outcome of one invocation within a
// scenario, suitable for printing as part of the JSON envelope.
type scenarioStep struct {
	Label  string `json:"label"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type scenarioFunc func(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error)

var scenarios = map[string]scenarioFunc{
	"s1": scenarioIndependentKeys,
	"s2": scenarioConcurrentRejection,
	"s3": scenarioNonRetryableSticks,
	"s4": scenarioRetryableReruns,
	"s5": scenarioOnlyOneRetryAtATime,
	"s6": scenarioLeaseExpiryUnblocks,
	"s7": scenarioReplaySkipsHandler,
}

func succeedingRequest(value int) runonce.Request[int, int, int] {
	return runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return value, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			return req, nil
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
}

func scenarioIndependentKeys(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	keyA, keyB := uuid.NewString(), uuid.NewString()
	var steps []scenarioStep

	a, err := runonce.RunOnce(ctx, c, keyA, succeedingRequest(2))
	steps = append(steps, scenarioStep{Label: "A", Result: fmt.Sprint(a), Error: errString(err)})

	b, err := runonce.RunOnce(ctx, c, keyB, succeedingRequest(11))
	steps = append(steps, scenarioStep{Label: "B", Result: fmt.Sprint(b), Error: errString(err)})
	return steps, nil
}

func scenarioConcurrentRejection(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()
	started := make(chan struct{})

	req := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			close(started)
			select {}
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}

	go func() { _, _ = runonce.RunOnce(ctx, c, key, req) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		return nil, errors.New("invocation A never started")
	}

	_, err := runonce.RunOnce(ctx, c, key, succeedingRequest(99))
	return []scenarioStep{{Label: "B", Error: errString(err)}}, nil
}

func scenarioNonRetryableSticks(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()
	var handlerBCalled atomic.Bool

	failReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			return 0, errors.New("malformed payload")
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	_, errA := runonce.RunOnce(ctx, c, key, failReq)

	spyReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			handlerBCalled.Store(true)
			return 0, errors.New("handler B should never run")
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	_, errB := runonce.RunOnce(ctx, c, key, spyReq)

	if handlerBCalled.Load() {
		return nil, errors.New("handler B ran after a non-retryable failure")
	}
	return []scenarioStep{
		{Label: "A", Error: errString(errA)},
		{Label: "B", Error: errString(errB)},
	}, nil
}

func scenarioRetryableReruns(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()

	failReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			return 0, &runonce.RetryableError{Key: key, Err: errors.New("upstream timeout")}
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	_, errA := runonce.RunOnce(ctx, c, key, failReq)

	var sawRetry bool
	retryReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			sawRetry = retry
			return 5432, nil
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	b, errB := runonce.RunOnce(ctx, c, key, retryReq)
	if errB == nil && !sawRetry {
		return nil, errors.New("handler B did not observe retry=true")
	}

	return []scenarioStep{
		{Label: "A", Error: errString(errA)},
		{Label: "B", Result: fmt.Sprint(b), Error: errString(errB)},
	}, nil
}

func scenarioOnlyOneRetryAtATime(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()

	failReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			return 0, &runonce.RetryableError{Key: key, Err: errors.New("upstream timeout")}
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	if _, err := runonce.RunOnce(ctx, c, key, failReq); err == nil {
		return nil, errors.New("expected invocation A to fail")
	}

	started := make(chan struct{})
	hangReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			close(started)
			select {}
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	go func() { _, _ = runonce.RunOnce(ctx, c, key, hangReq) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		return nil, errors.New("invocation B never started")
	}

	_, errC := runonce.RunOnce(ctx, c, key, succeedingRequest(1))
	return []scenarioStep{{Label: "C", Error: errString(errC)}}, nil
}

func scenarioLeaseExpiryUnblocks(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()

	hangReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		TTLMs:         1,
		Preprocess:    func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			select {}
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			return resp, nil
		},
	}
	go func() { _, _ = runonce.RunOnce(ctx, c, key, hangReq) }()

	var b int
	var errB error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, errB = runonce.RunOnce(ctx, c, key, runonce.Request[int, int, int]{
			ResponseCodec:    runonce.JSONCodec[int]{},
			TTLMs:            1,
			AutomaticTimeout: false,
			Preprocess:       func(ctx context.Context) (int, error) { return 77, nil },
			Handler: func(ctx context.Context, req int, retry bool) (int, error) {
				return req, nil
			},
			Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
				return resp, nil
			},
		})
		if errB == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	return []scenarioStep{{Label: "B", Result: fmt.Sprint(b), Error: errString(errB)}}, nil
}

func scenarioReplaySkipsHandler(ctx context.Context, c *runonce.Coordinator) ([]scenarioStep, error) {
	key := uuid.NewString()

	a, errA := runonce.RunOnce(ctx, c, key, succeedingRequest(4242))

	var handlerBCalled atomic.Bool
	spyReq := runonce.Request[int, int, int]{
		ResponseCodec: runonce.JSONCodec[int]{},
		Preprocess: func(ctx context.Context) (int, error) { return 1, nil },
		Handler: func(ctx context.Context, req int, retry bool) (int, error) {
			handlerBCalled.Store(true)
			return 0, errors.New("handler B should never run on replay")
		},
		Postprocess: func(ctx context.Context, resp int, alreadyCompleted bool) (int, error) {
			if !alreadyCompleted {
				return 0, errors.New("expected already_completed=true on replay")
			}
			return resp, nil
		},
	}
	b, errB := runonce.RunOnce(ctx, c, key, spyReq)

	if handlerBCalled.Load() {
		return nil, errors.New("handler B ran on a replay")
	}
	return []scenarioStep{
		{Label: "A", Result: fmt.Sprint(a), Error: errString(errA)},
		{Label: "B", Result: fmt.Sprint(b), Error: errString(errB)},
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
