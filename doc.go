// Package courier is a client library for submitting asynchronous render
// jobs to a remote service and learning of their completion. Results are
// delivered over a push channel (a publish/subscribe messaging transport
// layered on a persistent websocket) with automatic, permanent fallback
// to HTTP polling when the push path proves unreliable.
//
// Courier is a library, not a service. Construct a Pipe with a submission
// client and a set of delivery hooks, then create or retrieve jobs:
//
//	p, err := courier.New(
//	    api.NewHTTP("https://render.example.com", token),
//	    courier.Hooks{
//	        OnGotExperience: func(exp *wire.Experience) { ... },
//	        OnInternalError: func(err error) { ... },
//	    },
//	    courier.WithConfig(courier.ConfigFromEnv()),
//	)
//
//	correlID, err := p.CreateExperience(ctx, inventory, true, nil)
//
// # Delivery
//
// In push mode the pipe subscribes to a job-scoped channel before the
// creation call is issued, so no completion event can be missed. The
// push consumer reconnects a bounded number of times at a fixed cadence;
// when the budget is exhausted the pipe switches to polling for the rest
// of its lifetime and replays the cached creation parameters without
// caller involvement.
package courier
