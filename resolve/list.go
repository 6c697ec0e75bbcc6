package resolve

import (
	"context"
	"fmt"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
)

// List loads the instances matching filter and resolves them against their
// templates and exceptions. Templates and exceptions are fetched once per
// series. Instances of a deleted template are skipped like in ResolveMany.
func List(ctx context.Context, store storage.Store, filter storage.InstanceFilter, log logx.Logger) ([]ResolvedInstance, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	instances, err := store.ListInstances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var (
		templates  []storage.Template
		exceptions []storage.Exception
		seen       = make(map[string]bool)
	)
	for _, inst := range instances {
		id := inst.BaseRecurringEventID
		if seen[id] {
			continue
		}
		seen[id] = true

		tpl, err := store.GetTemplate(ctx, id)
		switch {
		case storage.IsNotFound(err):
			continue
		case err != nil:
			return nil, fmt.Errorf("get template %s: %w", id, err)
		}
		templates = append(templates, *tpl)

		excs, err := store.ListExceptions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list exceptions of %s: %w", id, err)
		}
		exceptions = append(exceptions, excs...)
	}

	return ResolveMany(instances, NewTemplateLookup(templates), NewExceptionLookup(exceptions), log), nil
}
