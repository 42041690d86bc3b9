package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirvaulterscoff/run-once/internal/output"
)

// NewKeyCmd creates a helper that prints a fresh idempotency key, for
// scripting callers that want a new key per logical operation.
func NewKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate a new idempotency key",
		RunE: func(cmd *cobra.Command, args []string) error {
			type resp struct {
				Key string `json:"key"`
			}
			return output.PrintSuccess(resp{Key: generateKey()})
		},
	}
	return cmd
}

func resolveKey(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("key"); err == nil && v != "" {
		return v
	}
	return os.Getenv("RUNONCE_KEY")
}

func generateKey() string {
	timestamp := time.Now().UnixNano()
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("key_%d", timestamp)
	}
	return fmt.Sprintf("key_%d_%s", timestamp, hex.EncodeToString(b[:]))
}

// requireKey returns the idempotency key from flag/env, or errors if
// neither is set. Callers must supply a stable key across retries for the
// coordinator to recognize them as the same logical operation.
func requireKey(cmd *cobra.Command) (string, error) {
	key := resolveKey(cmd)
	if key == "" {
		return "", fmt.Errorf("--key or RUNONCE_KEY is required")
	}
	return key, nil
}
