// Package services implements the application's use cases on top of the
// repository layer: the review loop, concept lifecycle, and the asynchronous
// generation pipeline.
package services

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/loci-ai/loci-engine/pkg/database"
	"github.com/loci-ai/loci-engine/pkg/repositories"
)

// TxRepos bundles repositories scoped to a single transaction.
type TxRepos struct {
	Concepts     repositories.ConceptRepository
	Phrasings    repositories.PhrasingRepository
	Interactions repositories.InteractionRepository
	Stats        repositories.UserStatsRepository
}

// TxRunner runs a function with transaction-scoped repositories, committing
// on nil error and rolling back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(r *TxRepos) error) error
}

type dbTxRunner struct {
	db *database.DB
}

// NewTxRunner creates a TxRunner backed by the connection pool.
func NewTxRunner(db *database.DB) TxRunner {
	return &dbTxRunner{db: db}
}

var _ TxRunner = (*dbTxRunner)(nil)

func (r *dbTxRunner) InTx(ctx context.Context, fn func(r *TxRepos) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&TxRepos{
			Concepts:     repositories.NewConceptRepository(tx),
			Phrasings:    repositories.NewPhrasingRepository(tx),
			Interactions: repositories.NewInteractionRepository(tx),
			Stats:        repositories.NewUserStatsRepository(tx),
		})
	})
}
