// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package twin implements the Twin Messenger (TM) of SPEC_FULL.md §4.3: the
// device-twin request/response protocol (PATCH/GET/PUT/DELETE) layered on
// top of package messenger's generic AMQP Messenger.
//
//	tm, err := twin.Create(cfg)
//	tm.Start(session)
//	tm.Subscribe(onUpdate, nil)
//	for range time.Tick(100 * time.Millisecond) {
//		tm.DoWork()
//	}
//	tm.ReportStateAsync(payload, onReportComplete, nil)
//
// DoWork drives the subscription state machine first, then delegates to the
// embedded messenger.Messenger's own DoWork, matching the control flow
// SPEC_FULL.md §2 describes: "the host ticks TM.do_work, which drives its
// subscription state machine, then delegates to AM.do_work."
package twin
