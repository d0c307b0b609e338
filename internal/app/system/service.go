package system

import "context"

// Service is a component with an explicit start/stop lifecycle. The runtime
// stops every attached service before the HTTP server goes down.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
