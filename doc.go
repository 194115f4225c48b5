// Package workerflow runs at-least-once message workers.
//
// A Route binds a Provider (where raw messages come from and where they are
// acknowledged), an optional Translator, a Handler and an optional
// ErrorHandler. A Dispatcher fetches from every route concurrently into a
// bounded queue and a pool of workers processes the entries:
//
//   - a handler returning true confirms the message with its provider
//   - a handler returning false releases it for redelivery
//   - returning ErrDeleteMessage confirms it without further processing
//   - any other error goes to the route's ErrorHandler, whose answer decides
//     between confirming and releasing
//
// A Runner owns signal handling and the lifetime of the tasks, and a Manager
// ties the dispatcher, the runner and an optional Prometheus endpoint together:
//
//	route := workerflow.MustNewRoute(workerflow.RouteConfig{
//		Provider:   provider,
//		Translator: workerflow.JSONTranslator,
//		Handler: workerflow.HandlerFunc(func(ctx context.Context, content any, md workerflow.Metadata) (bool, error) {
//			return true, nil
//		}),
//	})
//	manager, err := workerflow.NewManager(workerflow.ManagerConfig{Routes: []*workerflow.Route{route}})
//	if err != nil {
//		return err
//	}
//	return manager.Run(ctx, true, false)
//
// Providers for SQS, JetStream and any Watermill subscriber live under
// providers/. Watermill transports are built through the transport registry
// from a Config; blank-import transport/transports to register them all.
package workerflow
