package teardown

import (
	"github.com/vinayprograms/dunitkit/invoke"
)

// Replicate builds the same rule in the controller and in every simulated
// worker of l, as each process of a real deployment would. cfg.Host is
// ignored and cfg.Invoker defaults to l. The controller's rule is returned
// first, followed by one rule per worker in index order.
func Replicate[V any](l *invoke.Local, cfg Config) (*Rule[V], []*Rule[V], error) {
	if cfg.Invoker == nil {
		cfg.Invoker = l
	}

	controllerCfg := cfg
	controllerCfg.Host = l.Controller()
	controller, err := New[V](controllerCfg)
	if err != nil {
		return nil, nil, err
	}

	workers := make([]*Rule[V], 0, l.VMCount())
	for _, h := range l.Workers() {
		workerCfg := cfg
		workerCfg.Host = h
		workerCfg.Invoker = nil
		w, err := New[V](workerCfg)
		if err != nil {
			return nil, nil, err
		}
		workers = append(workers, w)
	}
	return controller, workers, nil
}
