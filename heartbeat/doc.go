// Package heartbeat provides liveness detection between agent platforms
// sharing a message bus.
//
// Every platform publishes a Heartbeat (state, agent count, schemes) on
// "heartbeat.<platform>". A Monitor on each platform subscribes to
// "heartbeat.*", records its peers and calls OnDead once a peer stays silent past the
// timeout, then OnAlive when it is heard from again. The platform uses
// these to suspend and reactivate the peer's directory entries.
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Bus:      b,
//	    Platform: "platform1",
//	    Interval: 5 * time.Second,
//	}, logger)
//	sender.Start(ctx)
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{
//	    Bus:     b,
//	    Self:    "platform1",
//	    Timeout: 15 * time.Second, // 3 missed heartbeats
//	}, logger)
//	monitor.OnDead(func(platform string) { ... })
//	monitor.Start()
//
// Set the timeout to 2-3x the heartbeat interval. Dead detection uses local
// receive times, so peers' clocks do not matter.
package heartbeat
