package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/principal"
)

func newCreateAdminCommand() *Command {
	cmd := &Command{
		Name:        "create-admin",
		Description: "Create a platform administrator account",
	}
	cmd.Run = func(args []string) error {
		flags := flag.NewFlagSet("create-admin", flag.ExitOnError)
		email := flags.String("email", "", "Administrator email (required)")
		name := flags.String("name", "", "Display name (required)")
		password := flags.String("password", "", "Initial password (required)")
		canImpersonate := flags.Bool("can-impersonate", false, "Grant the impersonation capability")
		if err := flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *name == "" || *password == "" {
			return fmt.Errorf("-email, -name, and -password are required")
		}
		return runCreateAdmin(*email, *name, *password, *canImpersonate)
	}
	return cmd
}

func runCreateAdmin(email, name, password string, canImpersonate bool) error {
	env, err := connect()
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()

	// Administrators follow the platform default password policy.
	if err := env.policies.Defaults().ValidatePassword(password); err != nil {
		return err
	}

	now := time.Now()
	admin := &principal.Principal{
		ID:             uuid.NewString(),
		Type:           principal.TypeAdministrator,
		DisplayName:    name,
		Email:          email,
		Status:         principal.StatusActive,
		CanImpersonate: canImpersonate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.principals.CreatePrincipal(ctx, admin); err != nil {
		return fmt.Errorf("failed to create administrator: %w", err)
	}

	hash, err := authn.HashSecret(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := env.principals.SetCredential(ctx, &principal.Credential{
		PrincipalID: admin.ID,
		Hash:        hash,
		Version:     1,
		UpdatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	_ = env.recorder.Record(ctx, &audit.Entry{
		EventType: audit.EventTypePrincipalCreate,
		Status:    audit.EventStatusSuccess,
		ActorID:   "carehaven-admin",
		TargetID:  admin.ID,
		Reason:    "operator CLI",
		Metadata:  map[string]string{"type": string(principal.TypeAdministrator)},
	})

	fmt.Printf("Created administrator %s (%s)\n", admin.ID, email)
	return nil
}
