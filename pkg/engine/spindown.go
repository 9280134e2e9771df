package engine

// SpinDown transitions Running -> SpinningDown -> SpunDown: runs a final
// full cleanup pass, forces an immediate durable dump, waits for any open
// cursors to close, then fires the completion callback. The cache itself is
// left in place; once SpunDown, every row and query operation fails with
// ReadyError. Idempotent: calling SpinDown again once already SpunDown is a
// no-op.
func (e *CachedDocumentEngine) SpinDown() error {
	if e.state.Load() == SpunDown {
		return nil
	}
	if !e.state.CAS(Running, SpinningDown) {
		if e.state.Load() != SpunDown {
			return ReadyError
		}
		return nil
	}

	if e.cancel != nil {
		e.cancel()
		<-e.doneCh
	}

	e.runMaintenancePass(true)

	err := e.dump.now()

	e.openCursors.Wait()

	e.state.Set(SpunDown)
	if e.onSpunDown != nil {
		e.onSpunDown()
	}
	return err
}

// ForceSpinDown short-circuits straight to SpunDown without running
// maintenance, a final dump, or waiting for cursors. Used when a parent
// sharded engine is discarding a child it no longer needs to preserve.
func (e *CachedDocumentEngine) ForceSpinDown() {
	if e.cancel != nil {
		e.cancel()
	}
	e.state.Set(SpunDown)
	if e.onSpunDown != nil {
		e.onSpunDown()
	}
}

// HasUncommittedData reports whether any row currently carries an
// uncommitted version, consulted by the table-metadata manager's
// canSpinDown() check before attempting a graceful spin-down.
func (e *CachedDocumentEngine) HasUncommittedData() bool {
	return len(e.cache.uncommittedIDs()) > 0
}
