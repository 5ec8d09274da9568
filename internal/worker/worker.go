package worker

// Worker is the interface implemented by the round runner and the settlement
// sweeper.
type Worker interface {
	Start()
	Stop()
}
