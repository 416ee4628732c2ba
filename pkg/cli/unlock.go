package cli

import (
	"context"
	"flag"
	"fmt"
)

func newUnlockCommand() *Command {
	cmd := &Command{
		Name:        "unlock",
		Description: "Clear a lockout ahead of its natural expiry",
	}
	cmd.Run = func(args []string) error {
		flags := flag.NewFlagSet("unlock", flag.ExitOnError)
		principalID := flags.String("principal", "", "Principal ID to unlock (required)")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if *principalID == "" {
			return fmt.Errorf("-principal is required")
		}
		return runUnlock(*principalID)
	}
	return cmd
}

func runUnlock(principalID string) error {
	env, err := connect()
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.auth.Unlock(context.Background(), "carehaven-admin", principalID); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", principalID, err)
	}
	fmt.Printf("Unlocked %s\n", principalID)
	return nil
}
