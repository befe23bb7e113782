package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	neterrors "github.com/star371/netsession/pkg/errors"
	"go.uber.org/zap"
)

// Registry holds at most one live service per name. Destroying a service frees
// its name so that a new service can take it.
type Registry struct {
	log *zap.Logger

	mut_services sync.RWMutex
	services     map[string]*Service
}

func CreateRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		log:          logger,
		mut_services: sync.RWMutex{},
		services:     make(map[string]*Service),
	}
}

func (r *Registry) Register(svc *Service) error {
	r.mut_services.Lock()
	defer r.mut_services.Unlock()

	if existing, has := r.services[svc.Name()]; has && existing != svc {
		return &neterrors.NameCollision{CollisionContext: "ServiceRegistry", Name: svc.Name()}
	}
	r.services[svc.Name()] = svc
	svc.registry = r
	return nil
}

func (r *Registry) Get(name string) (*Service, error) {
	r.mut_services.RLock()
	defer r.mut_services.RUnlock()

	svc, has := r.services[name]
	if !has {
		return nil, &neterrors.MissingService{Name: name}
	}
	return svc, nil
}

func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Delete destroys the named service.
func (r *Registry) Delete(name string) error {
	svc, err := r.Get(name)
	if err != nil {
		return err
	}
	svc.Destroy()
	return nil
}

func (r *Registry) release(svc *Service) {
	r.mut_services.Lock()
	defer r.mut_services.Unlock()

	if r.services[svc.Name()] == svc {
		delete(r.services, svc.Name())
	}
}

// Services returns the registered services ordered by name.
func (r *Registry) Services() []*Service {
	r.mut_services.RLock()
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mut_services.RUnlock()

	sort.Slice(services, func(i, j int) bool {
		return services[i].Name() < services[j].Name()
	})
	return services
}

// Process pumps every service. A panic in one service is logged and does not
// stop the others.
func (r *Registry) Process(dt time.Duration) int {
	delivered := 0
	for _, svc := range r.Services() {
		delivered += r.processOne(svc, dt)
	}
	return delivered
}

func (r *Registry) processOne(svc *Service, dt time.Duration) (delivered int) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Recovered from panic while processing service",
				zap.String("name", svc.Name()),
				zap.String("panic", fmt.Sprint(p)))
		}
	}()
	return svc.Process(dt)
}

// Close closes every auto-managed service and returns how many accepted the
// close.
func (r *Registry) Close(code int) int {
	closed := 0
	for _, svc := range r.Services() {
		if svc.IsAutoManaged() && svc.URL() != "" && svc.Close(code) {
			closed++
		}
	}
	return closed
}

// Reconnect reconnects every auto-managed service that has connected before
// and is not connected now.
func (r *Registry) Reconnect() int {
	reconnected := 0
	for _, svc := range r.Services() {
		if !svc.IsAutoManaged() || svc.URL() == "" || svc.IsConnected() {
			continue
		}
		if svc.Reconnect() {
			reconnected++
		}
	}
	return reconnected
}

// Reset destroys every service.
func (r *Registry) Reset() {
	for _, svc := range r.Services() {
		svc.Destroy()
	}
}

// Redirect hands data to the named service as a redirected message.
func (r *Registry) Redirect(name string, data []byte) error {
	svc, err := r.Get(name)
	if err != nil {
		return err
	}
	svc.OnRedirectMessage(data)
	return nil
}
