package dictgo

// Close stops the trainer, the sample spooler and the garbage collector and
// releases the plain codecs. Encode and Decode return ErrClosed afterwards.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.trainerMu.Lock()
	e.stopTrainerLocked()
	e.trainerMu.Unlock()

	if e.spooler != nil {
		e.spooler.Stop()
	}
	if e.gc != nil {
		e.gc.Stop()
	}

	var firstErr error
	if err := e.plainEnc.Close(); err != nil {
		firstErr = err
	}
	e.plainDec.Close()
	return firstErr
}
