// Package streamlink keeps long-lived event streams alive over WebSocket:
// it connects, performs the protocol handshake, supervises liveness with
// heartbeats, resumes or re-identifies after failures, and dispatches
// every inbound event to subscribers.
//
// Two protocols are built in:
//
//   - NewGatewayClient: the chat gateway (hello / identify / resume,
//     sequenced dispatch events, server-directed heartbeats)
//   - NewPushClient: a device status push channel over SockJS framing,
//     one event per top-level message key
//
// Basic usage:
//
//	logger, _ := zap.NewProduction()
//	reg := streamlink.NewRegistry()
//
//	gw, err := streamlink.NewGatewayClient(streamlink.GatewayConfig{
//	    Token: os.Getenv("DISCORD_TOKEN"),
//	}, streamlink.LogErrors(logger),
//	    streamlink.WithLogger(logger),
//	    streamlink.WithRegistry(reg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reg.SubscribeFunc("MESSAGE_CREATE", func(ev streamlink.Event) error {
//	    var msg struct{ Content string `json:"content"` }
//	    if err := ev.Unmarshal(&msg); err != nil {
//	        return err
//	    }
//	    logger.Info("message", zap.String("content", msg.Content))
//	    return nil
//	})
//
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Shutdown()
//
// Subscribers run on the receiving connection's goroutine, in the order
// they were registered. A subscriber that blocks stalls its connection.
package streamlink
