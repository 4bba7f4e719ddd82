// Package transitionmetrics exports state machine activity to Prometheus.
//
// Notifier implements statemachine.Notifier and is usually combined with the
// log notifier:
//
//	metrics, err := transitionmetrics.New(prometheus.DefaultRegisterer)
//	if err != nil {
//		return err
//	}
//	engine, err := statemachine.NewEngine(store, registry,
//		statemachine.WithNotifier(statemachine.Notifiers{
//			statemachine.NewLogNotifier(logger),
//			metrics,
//		}),
//	)
//
// FailureHandler plugs into statemachine.WithFailureHandler to count pending
// transitions the dispatcher could not apply, labelled by reason.
package transitionmetrics
