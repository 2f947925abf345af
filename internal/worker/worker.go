package worker

import (
	"context"
	"sync"

	"stock-reconciler/internal/service"
	"stock-reconciler/internal/util"
)

// SyncWorker owns the background half of the engine: it configures upstream
// webhooks once (best effort, failure degrades to poll-only) and runs the
// polling loop.
type SyncWorker struct {
	registrar *service.Registrar
	poller    *service.Poller

	once sync.Once
}

// NewSyncWorker creates the background sync worker.
func NewSyncWorker(registrar *service.Registrar, poller *service.Poller) *SyncWorker {
	return &SyncWorker{
		registrar: registrar,
		poller:    poller,
	}
}

// Start configures webhooks and launches the polling loop. Webhook setup
// runs only on the first Start; restarts after Stop reuse the existing
// subscriptions.
func (w *SyncWorker) Start(ctx context.Context) {
	logger := util.GetLogger()
	logger.Info("Starting sync worker")

	w.once.Do(func() {
		w.registrar.SetupSubscriptions(ctx)
	})

	w.poller.Start(ctx)
}

// Stop shuts the polling loop down and waits for an in-flight cycle.
func (w *SyncWorker) Stop() {
	util.GetLogger().Info("Stopping sync worker")
	w.poller.Stop()
}
