package capability

import (
	"context"
	"fmt"

	"github.com/antoniostano/workmate/internal/credential"
	"github.com/antoniostano/workmate/internal/provider"
)

// Backend executes operations for one provider with a bearer token.
type Backend interface {
	Provider() provider.ID
	Execute(ctx context.Context, token string, op Operation) (Record, error)
}

// Dispatcher routes an operation to the backend of the credential's provider.
type Dispatcher struct {
	backends map[provider.ID]Backend
}

func NewDispatcher(backends ...Backend) *Dispatcher {
	d := &Dispatcher{backends: make(map[provider.ID]Backend, len(backends))}
	for _, b := range backends {
		if b != nil {
			d.backends[b.Provider()] = b
		}
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, cred credential.Credential, op Operation) (Record, error) {
	b, ok := d.backends[cred.Provider]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, cred.Provider)
	}
	return b.Execute(ctx, cred.AccessToken, op)
}
