package cli

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/carehaven/carehaven/pkg/audit"
	"github.com/carehaven/carehaven/pkg/authn"
	"github.com/carehaven/carehaven/pkg/policy"
	"github.com/carehaven/carehaven/pkg/session"
	"github.com/carehaven/carehaven/pkg/store"
)

// adminEnv holds the collaborators every subcommand needs, wired over the
// Postgres database named by CAREHAVEN_POSTGRES_URL.
type adminEnv struct {
	db         *sql.DB
	principals *store.Postgres
	recorder   *audit.DBRecorder
	auth       *authn.Authenticator
	policies   *policy.Resolver
}

func connect() (*adminEnv, error) {
	url := os.Getenv("CAREHAVEN_POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("CAREHAVEN_POSTGRES_URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	principals, err := store.NewPostgres(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	policies := policy.NewResolver(principals)
	// The CLI talks straight to the database; it holds no session state, so a
	// throwaway in-memory session store is enough for the authenticator.
	sessions := session.NewManager(session.NewMemoryStore())
	auth := authn.NewAuthenticator(principals, policies, sessions, recorder)

	return &adminEnv{
		db:         db,
		principals: principals,
		recorder:   recorder,
		auth:       auth,
		policies:   policies,
	}, nil
}

func (e *adminEnv) close() {
	e.db.Close()
}
