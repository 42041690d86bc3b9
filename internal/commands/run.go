package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	runonce "github.com/sirvaulterscoff/run-once"
	"github.com/sirvaulterscoff/run-once/internal/output"
)

// NewRunCmd creates the "run" command: a single idempotent invocation driven
// entirely by flags, for scripting and manual exploration of the coordinator.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one idempotent operation through the coordinator",
		Long:  "Drives runonce.RunOnce with a handler shaped by --mode, useful for scripting retries and failures against a real SQLite-backed store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := requireKey(cmd)
			if err != nil {
				return cmdErr(err)
			}

			mode, _ := cmd.Flags().GetString("mode")
			sleepMs, _ := cmd.Flags().GetInt("sleep-ms")
			ttlMs, _ := cmd.Flags().GetInt64("ttl-ms")
			automaticTimeout, _ := cmd.Flags().GetBool("automatic-timeout")
			value, _ := cmd.Flags().GetString("value")

			type result struct {
				Value  string `json:"value"`
				Replay bool   `json:"already_completed"`
			}

			var res result
			runErr := withCoordinator(func(c *runonce.Coordinator) error {
				req := runonce.Request[string, string, result]{
					TTLMs:            ttlMs,
					AutomaticTimeout: automaticTimeout,
					ResponseCodec:    runonce.JSONCodec[string]{},
					Preprocess: func(ctx context.Context) (string, error) {
						return value, nil
					},
					Handler: func(ctx context.Context, req string, retry bool) (string, error) {
						if sleepMs > 0 {
							select {
							case <-time.After(time.Duration(sleepMs) * time.Millisecond):
							case <-ctx.Done():
								return "", ctx.Err()
							}
						}
						switch mode {
						case "fail-retryable":
							return "", &runonce.RetryableError{Key: key, Err: errors.New("transient backend error")}
						case "fail-nonretryable":
							return "", errors.New("invalid request payload")
						case "hang":
							select {}
						default:
							return req, nil
						}
					},
					Postprocess: func(ctx context.Context, resp string, alreadyCompleted bool) (result, error) {
						return result{Value: resp, Replay: alreadyCompleted}, nil
					},
				}

				r, err := runonce.RunOnce(cmd.Context(), c, key, req)
				if err != nil {
					return err
				}
				res = r
				return nil
			})
			if runErr != nil {
				return runErr
			}

			return output.PrintSuccess(res)
		},
	}

	cmd.Flags().String("key", "", "Idempotency key (default: $RUNONCE_KEY)")
	cmd.Flags().String("mode", "succeed", "Handler behavior: succeed|fail-retryable|fail-nonretryable|hang")
	cmd.Flags().String("value", "ok", "Value the handler returns on success")
	cmd.Flags().Int("sleep-ms", 0, "Milliseconds the handler sleeps before resolving")
	cmd.Flags().Int64("ttl-ms", 0, "Lease TTL in milliseconds (0 disables lease reclaiming)")
	cmd.Flags().Bool("automatic-timeout", false, "Fail the handler with TimeoutError once ttl-ms elapses")

	return cmd
}
