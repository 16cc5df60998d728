package interfaces

// Service is an outer surface of the settlement daemon, started once the
// application services are up and stopped before them on shutdown.
type Service interface {
	Start() error
	Stop()
}
