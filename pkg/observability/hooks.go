package observability

import (
	"log/slog"

	"github.com/aretw0/marginalia/pkg/domain"
)

// LogHooks logs every tracked and undone change at info level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	log := func(e *domain.ChangeEvent) {
		logger.Info("change "+string(e.Type),
			"step", e.Step,
			"type", e.Change,
		)
	}
	return domain.LifecycleHooks{OnTrack: log, OnUndo: log}
}

// Combine calls each set of hooks in order.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrack: func(e *domain.ChangeEvent) {
			for _, h := range hooks {
				if h.OnTrack != nil {
					h.OnTrack(e)
				}
			}
		},
		OnUndo: func(e *domain.ChangeEvent) {
			for _, h := range hooks {
				if h.OnUndo != nil {
					h.OnUndo(e)
				}
			}
		},
	}
}
