// Package service orchestrates a complete MCTP endpoint device.
//
// EndpointService ties the lower-level packages together over one
// transport binding:
//
//   - a single I/O goroutine reads packets, feeds reassembly, and
//     answers control protocol commands inline
//   - a writer goroutine drains the bounded outbound packet queue
//   - handler messages are dispatched on their own goroutine through a
//     bounded queue so a slow handler never stalls the I/O actor
//   - a maintenance ticker expires stalled reassembly contexts and
//     drives control transaction retries
//
// Example usage:
//
//	state := endpoint.New([]mctp.MsgType{mctp.TypePLDM}, 0)
//	cfg := service.DefaultEndpointConfig()
//
//	svc, err := service.NewEndpointService(state, tr, cfg)
//	svc.Start(ctx)
//	defer svc.Stop()
//	<-svc.Done()
//
// The service stops itself when the transport reports EOF or an I/O
// error; Err reports what ended it.
package service
