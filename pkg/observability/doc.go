/*
Package observability turns tracker lifecycle events into logs and Prometheus metrics.

Hooks are plain domain.LifecycleHooks values, so they plug into tracking.WithLifecycleHooks
(or session.WithTrackerOptions) and can be combined:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))
	mgr := session.NewManager(store,
		session.WithTrackerOptions(tracking.WithLifecycleHooks(hooks)),
		session.WithFailureHook(metrics.SessionFailed),
	)
*/
package observability
