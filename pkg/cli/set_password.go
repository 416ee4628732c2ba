package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/principal"
	"github.com/carehaven/carehaven/pkg/store"
)

func newSetPasswordCommand() *Command {
	cmd := &Command{
		Name:        "set-password",
		Description: "Reset a principal's password without the current one",
	}
	cmd.Run = func(args []string) error {
		flags := flag.NewFlagSet("set-password", flag.ExitOnError)
		principalID := flags.String("principal", "", "Principal ID (required)")
		password := flags.String("password", "", "New password (required)")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if *principalID == "" || *password == "" {
			return fmt.Errorf("-principal and -password are required")
		}
		return runSetPassword(*principalID, *password)
	}
	return cmd
}

// runSetPassword replaces the credential outright. Unlike the API's password
// change this needs no current secret; it is the operator's break-glass path,
// so the history non-reuse check still applies but session revocation is left
// to the lockout/disable flows.
func runSetPassword(principalID, password string) error {
	env, err := connect()
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()

	p, err := env.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return fmt.Errorf("failed to load principal %s: %w", principalID, err)
	}

	pol, err := env.policies.ResolveFor(ctx, p.FacilityIDs)
	if err != nil {
		return fmt.Errorf("failed to resolve policy: %w", err)
	}
	if err := pol.ValidatePassword(password); err != nil {
		return err
	}

	hash, err := authn.HashSecret(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	cred, err := env.principals.GetCredential(ctx, principalID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		cred = &principal.Credential{PrincipalID: principalID}
	} else if err != nil {
		return fmt.Errorf("failed to load credential: %w", err)
	} else {
		for _, old := range append([]string{cred.Hash}, cred.History...) {
			if authn.VerifySecret(old, password) {
				return authn.ErrPasswordReused
			}
		}
	}

	updated := &principal.Credential{
		PrincipalID: principalID,
		Hash:        hash,
		Version:     cred.Version + 1,
		UpdatedAt:   time.Now(),
	}
	if cred.Hash != "" {
		updated.History = append([]string{cred.Hash}, cred.History...)
		if pol.PasswordHistoryCount > 0 && len(updated.History) > pol.PasswordHistoryCount {
			updated.History = updated.History[:pol.PasswordHistoryCount]
		} else if pol.PasswordHistoryCount == 0 {
			updated.History = nil
		}
	}
	if err := env.principals.SetCredential(ctx, updated); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	_ = env.recorder.Record(ctx, &audit.Entry{
		EventType:  audit.EventTypePasswordChange,
		Status:     audit.EventStatusSuccess,
		ActorID:    "carehaven-admin",
		TargetID:   principalID,
		FacilityID: p.HomeFacility(),
		Reason:     "operator reset",
	})

	fmt.Printf("Password updated for %s (credential version %d)\n", principalID, updated.Version)
	return nil
}
