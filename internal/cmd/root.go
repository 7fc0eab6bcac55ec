// Package cmd implements the ghmirror command line interface. Every command
// prints its result as JSON on stdout; failures are printed as a JSON object
// with a kind and message on stderr.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ghmirror/config"
	"ghmirror/internal/api"
	"ghmirror/internal/db"
	"ghmirror/internal/models"
	"ghmirror/internal/sync"
	"ghmirror/internal/tenant"
)

type app struct {
	cfgPath string
	cfg     *config.Config
	store   *db.DB
}

// open loads the config and opens the database. Commands call it at the top
// of their RunE and defer close.
func (a *app) open() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}

	store, err := db.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	if err := store.Initialize(); err != nil {
		store.Close()
		return err
	}

	a.cfg = cfg
	a.store = store
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) syncer() *sync.Syncer {
	return sync.NewSyncer(a.store, sync.Config{
		Workers: a.cfg.Workers,
		Timeout: a.cfg.SyncTimeout(),
	})
}

// resolveIntegration picks the integration a command runs as. With a zero
// account id it falls back to the sole connected account; ambiguity is an
// error rather than a guess. The resolved integration rides on the command
// context, so later lookups within the same command reuse it instead of
// hitting the store again.
func (a *app) resolveIntegration(cmd *cobra.Command, accountID int64) (*models.Integration, error) {
	ctx := cmd.Context()

	if integ, ok := tenant.FromContext(ctx); ok {
		return integ, nil
	}

	integ, err := a.lookupIntegration(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cmd.SetContext(tenant.WithIntegration(ctx, integ))
	return integ, nil
}

func (a *app) lookupIntegration(ctx context.Context, accountID int64) (*models.Integration, error) {
	if accountID != 0 {
		return tenant.Resolve(ctx, a.store, accountID)
	}

	integrations, err := a.store.ListIntegrations(ctx)
	if err != nil {
		return nil, err
	}
	var active []*models.Integration
	for _, integ := range integrations {
		if integ.Status == models.IntegrationActive {
			active = append(active, integ)
		}
	}
	switch len(active) {
	case 0:
		return nil, tenant.ErrIntegrationRequired
	case 1:
		return active[0], nil
	default:
		return nil, fmt.Errorf("%d accounts are connected, pick one with --account", len(active))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand builds the ghmirror command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ghmirror",
		Short:         "Mirror connected GitHub accounts into a local database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", config.DefaultPath, "path to the config file")

	root.AddCommand(
		newInitCommand(a),
		newIntegrationCommand(a),
		newSyncCommand(a),
		newStatusCommand(a),
		newStatsCommand(a),
	)
	return root
}

// Execute runs the CLI and prints failures as JSON on stderr.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		kind := "error"
		var apiErr *api.Error
		switch {
		case errors.As(err, &apiErr):
			kind = string(apiErr.Type)
		case errors.Is(err, tenant.ErrIntegrationRequired):
			kind = "integration_required"
		case errors.Is(err, tenant.ErrNotOwned):
			kind = "not_owned"
		case errors.Is(err, db.ErrNotFound):
			kind = "not_found"
		}
		json.NewEncoder(os.Stderr).Encode(map[string]string{
			"kind":    kind,
			"message": err.Error(),
		})
		os.Exit(1)
	}
}
